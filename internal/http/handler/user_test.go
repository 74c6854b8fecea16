package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NEAR-DevHub/devbot/internal/domain"
	"github.com/NEAR-DevHub/devbot/internal/http/dto"
	"github.com/NEAR-DevHub/devbot/internal/http/router"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

type mockUserReader struct {
	userProfileFn       func(ctx context.Context, handle string, at time.Time) (ledger.UserView, error)
	userContributionsFn func(ctx context.Context, handle string, page, limit int) ([]ledger.PRRecord, error)
}

func (m *mockUserReader) UserProfile(ctx context.Context, handle string, at time.Time) (ledger.UserView, error) {
	if m.userProfileFn != nil {
		return m.userProfileFn(ctx, handle, at)
	}
	return ledger.UserView{Handle: handle}, nil
}

func (m *mockUserReader) UserContributions(ctx context.Context, handle string, page, limit int) ([]ledger.PRRecord, error) {
	if m.userContributionsFn != nil {
		return m.userContributionsFn(ctx, handle, page, limit)
	}
	return nil, nil
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var _ = Describe("UserHandler", func() {
	var r *gin.Engine

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
	})

	Context("backed by a ledger", func() {
		BeforeEach(func() {
			ctx := context.Background()
			machine := ledger.NewMachine(ledger.NewMemoryStore())
			client := ledger.NewClient(machine)

			_, err := machine.Apply(ctx, ledger.AllowOrganization{Org: "near"})
			Expect(err).NotTo(HaveOccurred())

			now := time.Now().UTC()
			ref := domain.PRRef{Owner: "near", Repo: "core", Number: 5}
			_, err = client.SlothCalled(ctx, ref, "alice", now.Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothScored(ctx, ref.FullID(), "bob", 9)
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SlothMerged(ctx, ref.FullID(), now)
			Expect(err).NotTo(HaveOccurred())

			r = gin.New()
			router.SetupRoutes(r, client)
		})

		It("reports health", func() {
			Expect(get(r, "/healthz").Code).To(Equal(http.StatusOK))
		})

		It("returns the user's current periods", func() {
			w := get(r, "/api/users/alice")
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp dto.UserResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Handle).To(Equal("alice"))
			Expect(resp.Periods).NotTo(BeEmpty())

			var allTime *dto.PeriodResponse
			for i := range resp.Periods {
				if resp.Periods[i].Period == string(ledger.AllTime) {
					allTime = &resp.Periods[i]
				}
			}
			Expect(allTime).NotTo(BeNil())
			Expect(allTime.TotalScore).To(Equal(uint32(9)))
			Expect(allTime.ExecutedPRs).To(Equal(uint32(1)))
		})

		It("pages contributions", func() {
			w := get(r, "/api/users/alice/contributions?limit=10")
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp dto.ContributionsResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Limit).To(Equal(10))
			Expect(resp.Items).To(HaveLen(1))
			Expect(resp.Items[0].ID).To(Equal("near/core/5"))
			Expect(resp.Items[0].State).To(Equal(string(ledger.StateExecuted)))
			Expect(resp.Items[0].Score).To(Equal(uint32(9)))
		})
	})

	Context("with a mock reader", func() {
		var reader *mockUserReader

		BeforeEach(func() {
			reader = &mockUserReader{}
			r = gin.New()
			router.SetupRoutes(r, reader)
		})

		It("defaults the page size", func() {
			reader.userContributionsFn = func(_ context.Context, handle string, page, limit int) ([]ledger.PRRecord, error) {
				Expect(handle).To(Equal("alice"))
				Expect(page).To(Equal(0))
				Expect(limit).To(Equal(20))
				return nil, nil
			}
			Expect(get(r, "/api/users/alice/contributions").Code).To(Equal(http.StatusOK))
		})

		DescribeTable("rejects bad input",
			func(path string) {
				Expect(get(r, path).Code).To(Equal(http.StatusBadRequest))
			},
			Entry("dot in handle", "/api/users/al.ice"),
			Entry("leading hyphen", "/api/users/-alice"),
			Entry("limit too large", "/api/users/alice/contributions?limit=500"),
			Entry("negative page", "/api/users/alice/contributions?page=-1"),
			Entry("non-numeric limit", "/api/users/alice/contributions?limit=ten"),
		)

		It("returns 500 when the ledger fails", func() {
			reader.userProfileFn = func(context.Context, string, time.Time) (ledger.UserView, error) {
				return ledger.UserView{}, errors.New("boom")
			}
			Expect(get(r, "/api/users/alice").Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
