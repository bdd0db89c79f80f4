package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messenger-service/internal/auth"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) CreateUser(ctx context.Context, email, fullName, passwordHash string) (models.User, error) {
	args := m.Called(ctx, email, fullName, passwordHash)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) GetByID(ctx context.Context, userID int) (models.User, error) {
	args := m.Called(ctx, userID)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

func (m *UserRepositoryMock) ListOthers(ctx context.Context, userID int) ([]models.User, error) {
	args := m.Called(ctx, userID)
	var users []models.User
	if val := args.Get(0); val != nil {
		users = val.([]models.User)
	}
	return users, args.Error(1)
}

func (m *UserRepositoryMock) UpdateProfilePic(ctx context.Context, userID int, url string) (models.User, error) {
	args := m.Called(ctx, userID, url)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, senderID, receiverID int, text, imageURL *string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, text, imageURL)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetConversation(ctx context.Context, userA, userB int) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) AddReader(ctx context.Context, messageID, userID int) (bool, error) {
	args := m.Called(ctx, messageID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationRead(ctx context.Context, senderID, readerID int) error {
	args := m.Called(ctx, senderID, readerID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) LatestMessage(ctx context.Context, userA, userB int) (models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, senderID, receiverID int) (int, error) {
	args := m.Called(ctx, senderID, receiverID)
	return args.Int(0), args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) Verify(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ auth.Verifier = (*VerifierMock)(nil)
