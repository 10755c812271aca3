package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aett-tours/tours-api/databases"
)

// TokenTTL is how long an issued operator bearer token stays valid
const TokenTTL = 12 * time.Hour

type operatorCtxKey struct{}

// OperatorAuth guards the admin dashboard routes. Operators authenticate with
// basic auth against the operators collection and may exchange that for a
// cached bearer token.
type OperatorAuth struct {
	DB            databases.OperatorDatabase
	authenticator auth.Authenticator
}

// NewOperatorAuth sets up the go-guardian basic and bearer strategies
func NewOperatorAuth(db databases.OperatorDatabase) *OperatorAuth {
	a := &OperatorAuth{DB: db}

	a.authenticator = auth.New()
	cache := store.NewFIFO(context.Background(), TokenTTL)
	basicStrategy := basic.New(a.ValidateOperator, cache)
	tokenStrategy := bearer.New(bearer.NoOpAuthenticate, cache)

	a.authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	a.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
	return a
}

// Middleware rejects requests that carry neither valid operator credentials nor
// a valid bearer token
func (a *OperatorAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		operator, err := a.authenticator.Authenticate(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugf("Operator %s Authenticated\n", operator.UserName())
		ctx := context.WithValue(r.Context(), operatorCtxKey{}, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext returns the operator authenticated by Middleware
func OperatorFromContext(ctx context.Context) (auth.Info, bool) {
	info, ok := ctx.Value(operatorCtxKey{}).(auth.Info)
	return info, ok
}

// CreateToken returns a bearer token for the operator authenticated by Middleware
func (a *OperatorAuth) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	operator, ok := OperatorFromContext(r.Context())
	if !ok {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	token := uuid.New().String()
	tokenStrategy := a.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Append(tokenStrategy, token, operator, r); err != nil {
		http.Error(w, "failed to store token", http.StatusInternalServerError)
		return
	}

	responseBody, err := json.Marshal(map[string]string{
		"token": token,
		"id":    operator.ID(),
	})
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Write(responseBody)
}

// RevokeToken revokes the bearer token of the current request
func (a *OperatorAuth) RevokeToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	reqToken := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if reqToken == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "missing bearer token"}`))
		return
	}

	tokenStrategy := a.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Revoke(tokenStrategy, reqToken, r); err != nil {
		zap.S().Warnw("failed to revoke token", "error", err)
	}
	body, _ := json.Marshal(map[string]string{"revoked token": reqToken})
	w.Write(body)
}

// ValidateOperator checks a username and password against the operators collection
func (a *OperatorAuth) ValidateOperator(ctx context.Context, r *http.Request, username, password string) (auth.Info, error) {
	usernameHash := sha256.Sum256([]byte(username))

	queryCtx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	operator, err := a.DB.FindOne(queryCtx, bson.M{"username": username})
	if err != nil {
		return nil, errors.New("no matching operator found")
	}

	expectedUsernameHash := sha256.Sum256([]byte(operator.Username))
	usernameMatch := subtle.ConstantTimeCompare(usernameHash[:], expectedUsernameHash[:]) == 1

	if err := bcrypt.CompareHashAndPassword([]byte(operator.Password), []byte(password)); err != nil {
		return nil, errors.New("failed to compare password")
	}

	if usernameMatch {
		return auth.NewDefaultUser(operator.Username, operator.ID, nil, nil), nil
	}
	return nil, errors.New("invalid credentials")
}
