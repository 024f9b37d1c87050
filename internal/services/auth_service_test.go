package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	redismock "github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthConfig() {
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestPasswordHashing(t *testing.T) {
	setAuthConfig()

	t.Run("roundtrip", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.Contains(t, hashed, "$")
		assert.True(t, verifyPassword("password123", hashed))
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, err := hashPassword("password123")
		assert.NoError(t, err)
		assert.False(t, verifyPassword("hunter2hunter2", hashed))
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		first, _ := hashPassword("password123")
		second, _ := hashPassword("password123")
		assert.NotEqual(t, first, second)
	})

	t.Run("malformed stored hash", func(t *testing.T) {
		assert.False(t, verifyPassword("password123", "not-a-hash"))
	})
}

func TestGenerateJWT(t *testing.T) {
	setAuthConfig()

	tokenString, err := generateJWT(42, "teacher")
	assert.NoError(t, err)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(t, float64(42), claims["user_id"])
	assert.Equal(t, "teacher", claims["role"])
}

func TestGenerateAccountID(t *testing.T) {
	id := generateAccountID()
	assert.Len(t, id, 10)
	for _, c := range id {
		assert.True(t, c >= '0' && c <= '9')
	}
}

func TestAuthService_Login(t *testing.T) {
	setAuthConfig()

	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	redisClient, _ := redismock.NewClientMock()

	service := NewAuthService(db, redisClient, NewBankService())

	t.Run("valid credentials", func(t *testing.T) {
		hashed, _ := hashPassword("password123")

		sqlMock.ExpectQuery("SELECT id, email, first_name, last_name, role, password, account_id FROM users").
			WithArgs("asha@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "role", "password", "account_id"}).
				AddRow(1, "asha@example.com", "Asha", "Verma", "student", hashed, "1234567890"))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"asha@example.com","password":"password123"}`))
		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"token"`)
		assert.Contains(t, w.Body.String(), "1234567890")
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		hashed, _ := hashPassword("password123")

		sqlMock.ExpectQuery("SELECT id, email, first_name, last_name, role, password, account_id FROM users").
			WithArgs("asha@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "role", "password", "account_id"}).
				AddRow(1, "asha@example.com", "Asha", "Verma", "student", hashed, "1234567890"))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"asha@example.com","password":"wrong-password"}`))
		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("invalid payload", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"email":"not-an-email","password":"x"}`))
		service.Login(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Register(t *testing.T) {
	setAuthConfig()

	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	redisClient, _ := redismock.NewClientMock()

	service := NewAuthService(db, redisClient, NewBankService())

	t.Run("creates user and account together", func(t *testing.T) {
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("INSERT INTO users").
			WithArgs("asha@example.com", sqlmock.AnyArg(), "Asha", "Verma", "teacher", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
		sqlMock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), 7, 0, 0, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		sqlMock.ExpectCommit()

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/register",
			strings.NewReader(`{"email":"Asha@Example.com","password":"password123","firstName":"Asha","lastName":"Verma","role":"teacher"}`))
		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"token"`)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("admin cannot self-register", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/auth/register",
			strings.NewReader(`{"email":"boss@example.com","password":"password123","firstName":"Big","lastName":"Boss","role":"admin"}`))
		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_UpdateBankDetails(t *testing.T) {
	setAuthConfig()

	db, sqlMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	redisClient, _ := redismock.NewClientMock()

	service := NewAuthService(db, redisClient, NewBankService())

	t.Run("valid details", func(t *testing.T) {
		expectAccountLookup(sqlMock, "acct1")
		sqlMock.ExpectExec("UPDATE accounts SET account_no").
			WithArgs("123456789012", "SBIN0001234", "acct1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		service.UpdateBankDetails(w, authedRequest(http.MethodPut, "/auth/bank-details",
			`{"accountNo":"123456789012","ifscCode":"sbin0001234"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, sqlMock.ExpectationsWereMet())
	})

	t.Run("unknown bank prefix", func(t *testing.T) {
		expectAccountLookup(sqlMock, "acct1")

		w := httptest.NewRecorder()
		service.UpdateBankDetails(w, authedRequest(http.MethodPut, "/auth/bank-details",
			`{"accountNo":"123456789012","ifscCode":"ZZZZ0001234"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
