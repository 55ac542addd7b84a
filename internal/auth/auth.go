package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jun/securenotes/internal/model"
	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenTTL is the lifetime of an issued session token.
	TokenTTL = 24 * time.Hour

	bcryptCost     = 12
	minPasswordLen = 8
)

var (
	// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already exists")

	// ErrWeakPassword is returned when a password is too short to accept.
	ErrWeakPassword = errors.New("password too short")

	// ErrInvalidToken is returned when a session token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// UsersClient is the subset of *dynamodb.Client used by AuthService.
type UsersClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// AuthService handles account registration, login and session tokens.
type AuthService struct {
	dynamoClient UsersClient
	tableName    string
	jwtSecret    []byte

	// In-memory fallback, keyed by normalized email
	users map[string]model.User
	mu    sync.RWMutex
}

// NewAuthService creates a new AuthService. When dynamoClient is nil, users
// are kept in memory.
func NewAuthService(dynamoClient UsersClient, tableName string, jwtSecret string) *AuthService {
	return &AuthService{
		dynamoClient: dynamoClient,
		tableName:    tableName,
		jwtSecret:    []byte(jwtSecret),
		users:        make(map[string]model.User),
	}
}

// Register creates an account and returns a session token for it.
func (s *AuthService) Register(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLen {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.createUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issue(user)
}

// Login verifies a password and returns a fresh session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	user, err := s.getUser(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(*user)
}

// ValidateToken verifies a session token and returns the user ID it was issued to.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	return ParseToken(tokenString, string(s.jwtSecret))
}

// ParseToken verifies an HS256 session token and returns its subject.
func ParseToken(tokenString, jwtSecret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
}

func (s *AuthService) issue(user model.User) (*model.AuthResponse, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"exp":   time.Now().Add(TokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &model.AuthResponse{Token: signed, UserID: user.ID}, nil
}

func (s *AuthService) createUser(ctx context.Context, user model.User) error {
	if s.dynamoClient == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.users[user.Email]; exists {
			return ErrEmailTaken
		}
		s.users[user.Email] = user
		return nil
	}

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(email)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to save user to DynamoDB: %w", err)
	}
	return nil
}

func (s *AuthService) getUser(ctx context.Context, email string) (*model.User, error) {
	if s.dynamoClient == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		u, ok := s.users[email]
		if !ok {
			return nil, ErrInvalidCredentials
		}
		return &u, nil
	}

	out, err := s.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"email": &types.AttributeValueMemberS{Value: email},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}
	if out.Item == nil {
		return nil, ErrInvalidCredentials
	}

	var user model.User
	if err := attributevalue.UnmarshalMap(out.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
