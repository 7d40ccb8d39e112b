package api

import (
	"errors"
	"net/http"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/pkg/supabase"
)

var insertProfileSQL = regexp.QuoteMeta(`INSERT INTO profiles (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`)

func TestHandleRegister(t *testing.T) {
	tests := []struct {
		name           string
		body           map[string]string
		setupMocks     func(env *testEnv)
		expectedStatus int
		expectedError  string
	}{
		{
			name: "Successful registration",
			body: map[string]string{"email": "new@example.com", "password": "secret123"},
			setupMocks: func(env *testEnv) {
				env.auth.On("SignUp", mock.Anything, "new@example.com", "secret123").
					Return(&models.Identity{ID: otherID, Email: "new@example.com"}, nil)
				env.sql.ExpectExec(insertProfileSQL).
					WithArgs(otherID, "new@example.com").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Missing password",
			body:           map[string]string{"email": "new@example.com"},
			setupMocks:     func(env *testEnv) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Please provide an email and password.",
		},
		{
			name: "Rejected by auth service",
			body: map[string]string{"email": "taken@example.com", "password": "secret123"},
			setupMocks: func(env *testEnv) {
				env.auth.On("SignUp", mock.Anything, "taken@example.com", "secret123").
					Return(nil, &supabase.AuthError{Message: "User already registered"})
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "User already registered",
		},
		{
			name: "Profile insert failure does not fail registration",
			body: map[string]string{"email": "new@example.com", "password": "secret123"},
			setupMocks: func(env *testEnv) {
				env.auth.On("SignUp", mock.Anything, "new@example.com", "secret123").
					Return(&models.Identity{ID: otherID, Email: "new@example.com"}, nil)
				env.sql.ExpectExec(insertProfileSQL).
					WithArgs(otherID, "new@example.com").
					WillReturnError(errors.New("connection reset"))
			},
			expectedStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			tt.setupMocks(env)

			status, body := env.do(t, jsonRequest("POST", "/api/auth/register", "", tt.body))
			assert.Equal(t, tt.expectedStatus, status)
			if tt.expectedError != "" {
				assert.Equal(t, tt.expectedError, body["error"])
			} else {
				assert.Equal(t, "Registration successful! Please check your email to confirm your account.", body["message"])
				user := body["user"].(map[string]interface{})
				assert.Equal(t, otherID, user["id"])
			}
			env.auth.AssertExpectations(t)
			assert.NoError(t, env.sql.ExpectationsWereMet())
		})
	}
}

func TestHandleLogin(t *testing.T) {
	t.Run("Successful login", func(t *testing.T) {
		env := setupTestServer(t)
		env.auth.On("SignIn", mock.Anything, "user@example.com", "secret123").Return(
			&models.Session{AccessToken: "access", RefreshToken: "refresh", TokenType: "bearer", ExpiresIn: 3600},
			&models.Identity{ID: userID, Email: "user@example.com"},
			nil,
		)

		status, body := env.do(t, jsonRequest("POST", "/api/auth/login", "", map[string]string{"email": "user@example.com", "password": "secret123"}))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Login successful!", body["message"])
		session := body["session"].(map[string]interface{})
		assert.Equal(t, "access", session["access_token"])
		assert.Equal(t, "bearer", session["token_type"])
	})

	t.Run("Invalid credentials", func(t *testing.T) {
		env := setupTestServer(t)
		env.auth.On("SignIn", mock.Anything, "user@example.com", "wrong").
			Return(nil, nil, &supabase.AuthError{Message: "Invalid login credentials"})

		status, body := env.do(t, jsonRequest("POST", "/api/auth/login", "", map[string]string{"email": "user@example.com", "password": "wrong"}))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid login credentials", body["error"])
	})

	t.Run("Auth service unreachable", func(t *testing.T) {
		env := setupTestServer(t)
		env.auth.On("SignIn", mock.Anything, "user@example.com", "secret123").
			Return(nil, nil, errors.New("dial tcp: connection refused"))

		status, body := env.do(t, jsonRequest("POST", "/api/auth/login", "", map[string]string{"email": "user@example.com", "password": "secret123"}))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "Server error during login.", body["error"])
	})

	t.Run("Invalid body", func(t *testing.T) {
		env := setupTestServer(t)

		status, body := env.do(t, jsonRequest("POST", "/api/auth/login", "", "not an object"))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Please provide an email and password.", body["error"])
	})
}
