package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) ValidateToken(tokenString string) (*Claims, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func TestMiddleware(t *testing.T) {
	claims := &Claims{Roles: []string{"_admin"}}
	claims.Subject = "ann"

	tests := []struct {
		name       string
		method     string
		header     string
		setup      func(m *MockValidator)
		wantStatus int
		wantUser   string
	}{
		{
			name:       "valid token",
			method:     http.MethodGet,
			header:     "Bearer good",
			setup:      func(m *MockValidator) { m.On("ValidateToken", "good").Return(claims, nil) },
			wantStatus: http.StatusOK,
			wantUser:   "ann",
		},
		{
			name:       "invalid token",
			method:     http.MethodGet,
			header:     "Bearer bad",
			setup:      func(m *MockValidator) { m.On("ValidateToken", "bad").Return(nil, errors.New("token is expired")) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing header",
			method:     http.MethodPut,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic scheme",
			method:     http.MethodGet,
			header:     "Basic dXNlcjpwYXNz",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "preflight",
			method:     http.MethodOptions,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := new(MockValidator)
			if tt.setup != nil {
				tt.setup(v)
			}
			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if c := ClaimsFromContext(r.Context()); c != nil {
					gotUser = c.Subject
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/db", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(v, nil, next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, unauthorizedBody, w.Body.String())
			}
			v.AssertExpectations(t)
		})
	}
}
