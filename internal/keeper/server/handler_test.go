// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package server

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	"github.com/innovationmech/keeper/internal/keeper/service"
	"github.com/innovationmech/keeper/pkg/keeper"
)

// HandlerTestSuite runs admin API requests against a fresh service per test.
type HandlerTestSuite struct {
	suite.Suite
	router  *gin.Engine
	service *service.Service
}

// SetupTest builds a router over memory tiers
func (s *HandlerTestSuite) SetupTest() {
	s.router, s.service = newTestRouter(s.T())
}

func (s *HandlerTestSuite) request(method, path, body string, status int) []byte {
	w := do(s.T(), s.router, method, path, body)
	s.Require().Equal(status, w.Code, w.Body.String())
	return w.Body.Bytes()
}

func (s *HandlerTestSuite) TestListKeysReportsState() {
	w := do(s.T(), s.router, http.MethodGet, "/api/v1/keys", "")
	s.Require().Equal(http.StatusOK, w.Code)
	keys := decode[[]KeyInfo](s.T(), w)
	s.Require().Len(keys, 1)
	s.Equal("countries", keys[0].Name)
	s.Equal(1, keys[0].Version)
	s.Equal(string(keeper.StateHealthy), keys[0].State)
	s.Contains(keys[0].Tiers, keeper.TierPrimary)
}

func (s *HandlerTestSuite) TestHealthReportsTiers() {
	s.request(http.MethodPut, "/api/v1/keys/countries", `[{"code":"SE"}]`, http.StatusOK)

	w := do(s.T(), s.router, http.MethodGet, "/api/v1/keys/countries/health", "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	health := decode[HealthResponse](s.T(), w)
	s.Require().NotNil(health.Report)
	s.Equal(keeper.HealthStatusHealthy, health.Report.Status)
	s.True(health.Tiers[keeper.TierPrimary])
	s.True(health.Tiers[keeper.TierSession])
	s.Equal(keeper.StateHealthy, health.State)
}

func (s *HandlerTestSuite) TestEmergencyMergesFragments() {
	s.request(http.MethodPut, "/api/v1/keys/countries", `[{"code":"DE"}]`, http.StatusOK)
	s.request(http.MethodPost, "/api/v1/keys/countries/backups", `{"reason":"nightly"}`, http.StatusCreated)
	s.request(http.MethodPut, "/api/v1/keys/countries", `[{"code":"FR"}]`, http.StatusOK)

	w := do(s.T(), s.router, http.MethodPost, "/api/v1/keys/countries/emergency", "")
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	got := decode[ValueResponse](s.T(), w)
	s.Equal(keeper.SourceEmergencyUnion, got.Source)
	s.Contains(got.Value, map[string]any{"code": "DE"})
	s.Contains(got.Value, map[string]any{"code": "FR"})

	w = do(s.T(), s.router, http.MethodGet, "/api/v1/history", "")
	s.Require().Equal(http.StatusOK, w.Code)
	events := decode[[]keeper.RecoveryEvent](s.T(), w)
	s.Require().NotEmpty(events)
	s.Equal(keeper.SourceEmergencyUnion, events[len(events)-1].Source)
}

func (s *HandlerTestSuite) TestUnknownKeyEverywhere() {
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/keys/cities/health"},
		{http.MethodGet, "/api/v1/keys/cities/backups"},
		{http.MethodPost, "/api/v1/keys/cities/recover"},
		{http.MethodPost, "/api/v1/keys/cities/emergency"},
		{http.MethodGet, "/api/v1/keys/cities/history"},
	} {
		body := s.request(route.method, route.path, "", http.StatusNotFound)
		s.Contains(string(body), "unknown key", route.path)
	}
}

func TestHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(HandlerTestSuite))
}
