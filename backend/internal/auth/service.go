package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
	"schoolpoints/backend/internal/store"
)

// AuthService verifies bearer tokens and resolves them to policy actors.
// Tokens are issued by the identity provider; Sign exists for the seeder and
// tests, which share the HS256 secret.
type AuthService struct {
	config *shared.ServiceConfig
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// CustomClaims for JWT
type CustomClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// NewAuthService creates a new AuthService instance
func NewAuthService(st *store.Store, config *shared.ServiceConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		config: config,
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Sign creates a signed JWT for user
func (s *AuthService) Sign(user *shared.User) (string, time.Time, error) {
	now := s.now()
	expirationTime := now.Add(time.Duration(s.config.Security.JWTExpirationHours) * time.Hour)

	claims := CustomClaims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        shared.GenerateID("jti"),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Security.JWTIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))

	return tokenString, expirationTime, err
}

// parseToken validates the JWT signature and extracts claims
func (s *AuthService) parseToken(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Security.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Authenticate resolves a bearer token to the actor behind it. The users
// collection is the source of truth for role and classroom membership, so a
// role change takes effect without reissuing tokens.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*policy.Actor, error) {
	if tokenString == "" {
		return nil, status.Error(codes.Unauthenticated, "authorization token required")
	}

	claims, err := s.parseToken(tokenString)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	user, err := s.store.Users.Get(ctx, claims.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, status.Error(codes.Unauthenticated, "user not found")
		}
		s.logger.Error("load user for token", zap.String("user_id", claims.UserID), zap.Error(err))
		return nil, status.Error(codes.Internal, "database error")
	}
	if !user.IsActive {
		return nil, status.Error(codes.PermissionDenied, "account is inactive")
	}

	return s.ActorFor(ctx, user)
}

// ActorFor builds the policy actor of user, including homeroom classes
func (s *AuthService) ActorFor(ctx context.Context, user *shared.User) (*policy.Actor, error) {
	actor := &policy.Actor{
		ID:          user.ID,
		Role:        user.Role,
		FullName:    user.FullName,
		ClassroomID: user.ClassroomID,
	}

	if user.Role == shared.RoleTeacher {
		classes, err := s.store.Classrooms.FindByHomeroomTeacher(ctx, user.ID)
		if err != nil {
			return nil, status.Error(codes.Internal, "failed to load homeroom classes")
		}
		for _, c := range classes {
			actor.HomeroomClassIDs = append(actor.HomeroomClassIDs, c.ID)
		}
	}

	return actor, nil
}

// ============================================================================
// Context helpers
// ============================================================================

type ctxKey struct{}

// ContextWithActor stores actor in ctx
func ContextWithActor(ctx context.Context, actor *policy.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFromContext returns the actor stored by the auth middleware, or nil
func ActorFromContext(ctx context.Context) *policy.Actor {
	actor, _ := ctx.Value(ctxKey{}).(*policy.Actor)
	return actor
}
