package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLeadRepository struct {
	mock.Mock
}

func (m *MockLeadRepository) Create(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *MockLeadRepository) GetByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *MockLeadRepository) GetByID(ctx context.Context, id int64) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *MockLeadRepository) UpdateName(ctx context.Context, id int64, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

func (m *MockLeadRepository) RefreshLastContact(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockLeadRepository) List(ctx context.Context, f model.LeadFilter) ([]*model.Lead, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Lead), args.Get(1).(int64), args.Error(2)
}

func (m *MockLeadRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, v interface{}) (string, error) {
	args := m.Called(ctx, v)
	return args.String(0), args.Error(1)
}

func strptr(s string) *string { return &s }

func inTx(leadRepo *MockLeadRepository, ctx context.Context) {
	leadRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
		Return(nil)
}

func TestInboxService_ProcessInbound_NewLead(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(nil, repository.ErrLeadNotFound).Once()
	leadRepo.On("Create", ctx, mock.MatchedBy(func(l *model.Lead) bool {
		return l.Phone == "5511999990001" && l.Name == "Alice" && l.Status == model.LeadStatusNew
	})).Return(&model.Lead{ID: 7, Name: "Alice", Phone: "5511999990001", Status: model.LeadStatusNew}, nil)
	leadRepo.On("RefreshLastContact", ctx, int64(7), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.LeadID == 7 && m.Sender == "Alice" && m.Content == "hello" && m.MessageType == model.MessageTypeText
	})).Return(&model.Message{ID: 42, LeadID: 7, Content: "hello"}, nil)

	receipt, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From:      "5511999990001@c.us",
		Body:      strptr("hello"),
		Timestamp: 1750000000,
		Contact:   model.ContactInfo{Name: "Alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), receipt.LeadID)
	assert.Equal(t, int64(42), receipt.MessageID)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), receipt.Timestamp)

	leadRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	leadRepo.AssertNotCalled(t, "UpdateName", mock.Anything, mock.Anything, mock.Anything)
}

func TestInboxService_ProcessInbound_UpgradesUnknownName(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(&model.Lead{ID: 7, Name: model.UnknownName, Phone: "5511999990001"}, nil)
	leadRepo.On("UpdateName", ctx, int64(7), "Alice").Return(nil)
	leadRepo.On("RefreshLastContact", ctx, int64(7), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.Sender == "Alice"
	})).Return(&model.Message{ID: 1, LeadID: 7}, nil)

	_, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From:    "5511999990001@c.us",
		Body:    strptr("hi"),
		Contact: model.ContactInfo{Name: "Alice"},
	})
	require.NoError(t, err)

	leadRepo.AssertExpectations(t)
}

func TestInboxService_ProcessInbound_KeepsRealName(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(&model.Lead{ID: 7, Name: "Alice", Phone: "5511999990001"}, nil)
	leadRepo.On("RefreshLastContact", ctx, int64(7), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.Anything).
		Return(&model.Message{ID: 1, LeadID: 7}, nil)

	// contact card has no name; the stored one must not regress to Unknown
	_, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From: "5511999990001@c.us",
		Body: strptr("hi again"),
	})
	require.NoError(t, err)

	leadRepo.AssertNotCalled(t, "UpdateName", mock.Anything, mock.Anything, mock.Anything)
}

func TestInboxService_ProcessInbound_SenderTracksPayloadName(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(&model.Lead{ID: 7, Name: "Alice", Phone: "5511999990001"}, nil)
	leadRepo.On("RefreshLastContact", ctx, int64(7), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.Sender == model.UnknownName
	})).Return(&model.Message{ID: 3, LeadID: 7}, nil)

	// the lead is named, but this payload carried no contact name; the
	// message keeps the payload's view of the sender
	_, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From: "5511999990001@c.us",
		Body: strptr("anonymous hi"),
	})
	require.NoError(t, err)

	msgRepo.AssertExpectations(t)
}

func TestInboxService_ProcessInbound_DuplicatePhoneRace(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	winner := &model.Lead{ID: 9, Name: "Bob", Phone: "5511999990002"}

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990002").
		Return(nil, repository.ErrLeadNotFound).Once()
	leadRepo.On("Create", ctx, mock.Anything).
		Return(nil, repository.ErrDuplicatePhone)
	leadRepo.On("GetByPhone", ctx, "5511999990002").
		Return(winner, nil).Once()
	leadRepo.On("RefreshLastContact", ctx, int64(9), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.Anything).
		Return(&model.Message{ID: 2, LeadID: 9}, nil)

	receipt, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From: "5511999990002@c.us",
		Body: strptr("race"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), receipt.LeadID)

	leadRepo.AssertExpectations(t)
}

func TestInboxService_ProcessInbound_Validation(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	t.Run("missing body", func(t *testing.T) {
		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			From: "5511999990001@c.us",
		})
		assert.ErrorIs(t, err, model.ErrMissingBody)
	})

	t.Run("empty body is accepted", func(t *testing.T) {
		inTx(leadRepo, ctx)
		leadRepo.On("GetByPhone", ctx, "5511999990001").
			Return(&model.Lead{ID: 1, Name: "Alice"}, nil).Once()
		leadRepo.On("RefreshLastContact", ctx, int64(1), mock.AnythingOfType("time.Time")).
			Return(nil).Once()
		msgRepo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
			return m.Content == ""
		})).Return(&model.Message{ID: 3, LeadID: 1}, nil).Once()

		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			From: "5511999990001@c.us",
			Body: strptr(""),
		})
		assert.NoError(t, err)
	})

	t.Run("missing phone", func(t *testing.T) {
		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			Body: strptr("hello"),
		})
		assert.ErrorIs(t, err, model.ErrMissingPhone)
	})

	t.Run("contact number fallback", func(t *testing.T) {
		inTx(leadRepo, ctx)
		leadRepo.On("GetByPhone", ctx, "5511999990003").
			Return(&model.Lead{ID: 5, Name: "Carol"}, nil).Once()
		leadRepo.On("RefreshLastContact", ctx, int64(5), mock.AnythingOfType("time.Time")).
			Return(nil).Once()
		msgRepo.On("Create", ctx, mock.Anything).
			Return(&model.Message{ID: 4, LeadID: 5}, nil).Once()

		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			Body:    strptr("via contact"),
			Contact: model.ContactInfo{Number: "5511999990003"},
		})
		assert.NoError(t, err)
	})

	t.Run("suffix-only from falls back to contact number", func(t *testing.T) {
		inTx(leadRepo, ctx)
		leadRepo.On("GetByPhone", ctx, "5511999990004").
			Return(&model.Lead{ID: 6, Name: "Dora"}, nil).Once()
		leadRepo.On("RefreshLastContact", ctx, int64(6), mock.AnythingOfType("time.Time")).
			Return(nil).Once()
		msgRepo.On("Create", ctx, mock.Anything).
			Return(&model.Message{ID: 5, LeadID: 6}, nil).Once()

		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			From:    "@c.us",
			Body:    strptr("bare suffix"),
			Contact: model.ContactInfo{Number: "5511999990004"},
		})
		assert.NoError(t, err)
	})

	t.Run("whitespace from with no fallback is rejected", func(t *testing.T) {
		_, err := service.ProcessInbound(ctx, model.InboundMessageData{
			From: "   ",
			Body: strptr("hello"),
		})
		assert.ErrorIs(t, err, model.ErrMissingPhone)
	})
}

func TestInboxService_ProcessInbound_MessageCreateFails(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, nil, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(&model.Lead{ID: 1, Name: "Alice"}, nil)
	leadRepo.On("RefreshLastContact", ctx, int64(1), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.Anything).
		Return(nil, errors.New("disk full"))

	_, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From: "5511999990001@c.us",
		Body: strptr("hello"),
	})
	assert.ErrorContains(t, err, "create message")
}

func TestInboxService_ProcessInbound_PublishFailureIsSwallowed(t *testing.T) {
	leadRepo := new(MockLeadRepository)
	msgRepo := new(MockMessageRepository)
	pub := new(MockPublisher)
	ctx := context.Background()

	service := NewInboxService(leadRepo, msgRepo, pub, time.UTC)

	inTx(leadRepo, ctx)
	leadRepo.On("GetByPhone", ctx, "5511999990001").
		Return(&model.Lead{ID: 1, Name: "Alice"}, nil)
	leadRepo.On("RefreshLastContact", ctx, int64(1), mock.AnythingOfType("time.Time")).
		Return(nil)
	msgRepo.On("Create", ctx, mock.Anything).
		Return(&model.Message{ID: 6, LeadID: 1}, nil)
	pub.On("PublishJSON", ctx, mock.Anything).
		Return("", errors.New("stream down"))

	receipt, err := service.ProcessInbound(ctx, model.InboundMessageData{
		From: "5511999990001@c.us",
		Body: strptr("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6), receipt.MessageID)

	pub.AssertExpectations(t)
}

func TestInboxService_ResolveTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	service := NewInboxService(nil, nil, nil, loc)

	t.Run("epoch converts into display timezone", func(t *testing.T) {
		got := service.resolveTimestamp(1750000000)
		assert.Equal(t, time.Unix(1750000000, 0).In(loc), got)
		assert.Equal(t, loc, got.Location())
	})

	t.Run("zero falls back to now", func(t *testing.T) {
		got := service.resolveTimestamp(0)
		assert.WithinDuration(t, time.Now(), got, 2*time.Second)
	})
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "5511999990001", normalizePhone("5511999990001@c.us", ""))
	assert.Equal(t, "5511999990001", normalizePhone("5511999990001", ""))
	assert.Equal(t, "5511999990002", normalizePhone("", "5511999990002"))
	assert.Equal(t, "5511999990003", normalizePhone(" 5511999990003@c.us ", ""))
	// the suffix strips off before any fallback is considered
	assert.Equal(t, "5511999990004", normalizePhone("@c.us", "5511999990004"))
	assert.Equal(t, "@c.us", normalizePhone("@c.us", ""))
	assert.Equal(t, "", normalizePhone("", ""))
}
