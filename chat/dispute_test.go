package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	mocksdb "github.com/mercaline/market-chat-api/databases/mocks"
	"github.com/mercaline/market-chat-api/models"
)

type disputeFixture struct {
	userDB   *mocksdb.UserDatabase
	chatDB   *mocksdb.ChatDatabase
	memberDB *mocksdb.ChatMemberDatabase
	registry *Registry
	notifier *fakeNotifier
	svc      *Disputes
}

func newDisputeFixture() *disputeFixture {
	f := &disputeFixture{
		userDB:   &mocksdb.UserDatabase{},
		chatDB:   &mocksdb.ChatDatabase{},
		memberDB: &mocksdb.ChatMemberDatabase{},
		registry: NewRegistry(),
		notifier: newFakeNotifier(),
	}
	f.svc = NewDisputes(f.chatDB, f.memberDB, f.userDB, f.registry, f.notifier)
	return f
}

func disputeParams() CreateDisputeParams {
	return CreateDisputeParams{
		AdminID:        "admin-1",
		ProfessionalID: "pro-1",
		AgencyID:       "agency-1",
		Name:           "Order #1042 dispute",
		MaxMessages:    20,
	}
}

func TestCreateDisputeValidation(t *testing.T) {
	f := newDisputeFixture()

	tests := []struct {
		name   string
		mutate func(*CreateDisputeParams)
	}{
		{"missing admin", func(p *CreateDisputeParams) { p.AdminID = "" }},
		{"missing professional", func(p *CreateDisputeParams) { p.ProfessionalID = "" }},
		{"missing agency", func(p *CreateDisputeParams) { p.AgencyID = "" }},
		{"admin is professional", func(p *CreateDisputeParams) { p.ProfessionalID = p.AdminID }},
		{"professional is agency", func(p *CreateDisputeParams) { p.AgencyID = p.ProfessionalID }},
		{"zero budget", func(p *CreateDisputeParams) { p.MaxMessages = 0 }},
		{"negative budget", func(p *CreateDisputeParams) { p.MaxMessages = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := disputeParams()
			tt.mutate(&params)
			_, err := f.svc.CreateDispute(context.TODO(), params)
			assert.Equal(t, CodeValidationFailed, AsChatError(err).Code)
		})
	}
	f.chatDB.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything)
}

func TestCreateDisputeOpensActiveWithThreeMembers(t *testing.T) {
	f := newDisputeFixture()

	var insertedChat models.Chat
	f.chatDB.On("InsertOne", mock.Anything, mock.AnythingOfType("models.Chat")).
		Run(func(args mock.Arguments) { insertedChat = args.Get(1).(models.Chat) }).
		Return(nil, nil)

	var members []models.ChatMember
	f.memberDB.On("InsertOne", mock.Anything, mock.AnythingOfType("models.ChatMember")).
		Run(func(args mock.Arguments) { members = append(members, args.Get(1).(models.ChatMember)) }).
		Return(nil, nil)

	chat, err := f.svc.CreateDispute(context.TODO(), disputeParams())

	assert.Nil(t, err)
	assert.True(t, insertedChat.IsGroup)
	assert.True(t, insertedChat.IsDisputeChat)
	assert.Equal(t, models.DisputeActive, chat.DisputeStatus)

	assert.Len(t, members, 3)
	assert.Equal(t, "admin-1", members[0].UserID)
	assert.Equal(t, models.MemberRoleAdmin, members[0].Role)
	assert.Equal(t, models.UnlimitedMessages, members[0].MaxMessages)
	for _, m := range members[1:] {
		assert.Equal(t, models.MemberRoleMember, m.Role)
		assert.Equal(t, 20, m.MaxMessages)
		assert.Equal(t, chat.ID, m.ChatID)
	}
}

func TestValidateAccess(t *testing.T) {
	chatID := primitive.NewObjectID()
	activeChat := &models.Chat{ID: chatID, IsDisputeChat: true, DisputeStatus: models.DisputeActive}
	closedChat := &models.Chat{ID: chatID, IsDisputeChat: true, DisputeStatus: models.DisputeClosed}

	tests := []struct {
		name          string
		chat          *models.Chat
		member        *models.ChatMember
		wantAccess    bool
		wantRemaining int
	}{
		{
			"admin is unlimited",
			activeChat,
			&models.ChatMember{Role: models.MemberRoleAdmin, MaxMessages: models.UnlimitedMessages},
			true, models.UnlimitedMessages,
		},
		{
			"member with headroom",
			activeChat,
			&models.ChatMember{Role: models.MemberRoleMember, MaxMessages: 20, MessageCount: 15},
			true, 5,
		},
		{
			"member out of budget",
			activeChat,
			&models.ChatMember{Role: models.MemberRoleMember, MaxMessages: 20, MessageCount: 20},
			false, 0,
		},
		{
			"closed dispute keeps remaining visible",
			closedChat,
			&models.ChatMember{Role: models.MemberRoleMember, MaxMessages: 20, MessageCount: 12},
			false, 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDisputeFixture()
			f.chatDB.On("FindOne", mock.Anything, bson.M{"_id": chatID, "isDisputeChat": true}).Return(tt.chat, nil)
			f.memberDB.On("FindOne", mock.Anything, mock.Anything).Return(tt.member, nil)

			hasAccess, remaining, err := f.svc.ValidateAccess(context.TODO(), "someone", chatID)

			assert.Nil(t, err)
			assert.Equal(t, tt.wantAccess, hasAccess)
			assert.Equal(t, tt.wantRemaining, remaining)
		})
	}
}

func TestValidateAccessNonMember(t *testing.T) {
	f := newDisputeFixture()
	chatID := primitive.NewObjectID()
	f.chatDB.On("FindOne", mock.Anything, mock.Anything).
		Return(&models.Chat{ID: chatID, IsDisputeChat: true, DisputeStatus: models.DisputeActive}, nil)
	f.memberDB.On("FindOne", mock.Anything, mock.Anything).Return(nil, errors.New("mongo: no documents in result"))

	hasAccess, remaining, err := f.svc.ValidateAccess(context.TODO(), "outsider", chatID)

	assert.Nil(t, err)
	assert.False(t, hasAccess)
	assert.Equal(t, 0, remaining)
}

func TestDisputeTransitionTable(t *testing.T) {
	allowed := []struct{ from, to string }{
		{models.DisputeActive, models.DisputeResolved},
		{models.DisputeActive, models.DisputeClosed},
		{models.DisputeResolved, models.DisputeClosed},
		{models.DisputeResolved, models.DisputeActive},
	}
	for _, tr := range allowed {
		assert.True(t, transitionAllowed(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}

	forbidden := []struct{ from, to string }{
		{models.DisputeClosed, models.DisputeActive},
		{models.DisputeClosed, models.DisputeResolved},
		{models.DisputeActive, models.DisputeActive},
		{models.DisputeResolved, models.DisputeResolved},
	}
	for _, tr := range forbidden {
		assert.False(t, transitionAllowed(tr.from, tr.to), "%s -> %s", tr.from, tr.to)
	}
}

func (f *disputeFixture) wireStatusChange(chat *models.Chat, actor *models.ChatMember) {
	f.chatDB.On("FindOne", mock.Anything, bson.M{"_id": chat.ID, "isDisputeChat": true}).Return(chat, nil)
	f.memberDB.On("FindOne", mock.Anything, mock.Anything).Return(actor, nil)
	f.chatDB.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{ModifiedCount: 1}, nil)
}

func TestUpdateStatusResolvesAndBroadcasts(t *testing.T) {
	f := newDisputeFixture()
	chat := &models.Chat{ID: primitive.NewObjectID(), IsDisputeChat: true, DisputeStatus: models.DisputeActive}
	admin := &models.ChatMember{ChatID: chat.ID, UserID: "admin-1", Role: models.MemberRoleAdmin}
	f.wireStatusChange(chat, admin)

	f.memberDB.On("Find", mock.Anything, bson.M{"chatId": chat.ID, "exited": false}).
		Return([]models.ChatMember{
			{ChatID: chat.ID, UserID: "admin-1"},
			{ChatID: chat.ID, UserID: "pro-1"},
		}, nil)
	f.userDB.On("FindOne", mock.Anything, bson.M{"_id": "pro-1"}).Return(&models.User{ID: "pro-1"}, nil)

	adminConn := newFakeConn("conn-1", "admin-1")
	f.registry.Register(adminConn)

	updated, err := f.svc.UpdateStatus(context.TODO(), "admin-1", chat.ID, models.DisputeResolved)

	assert.Nil(t, err)
	assert.Equal(t, models.DisputeResolved, updated.DisputeStatus)
	assert.NotZero(t, updated.ResolvedAt)

	// the online admin hears it over the socket, offline pro-1 via notifier
	assert.Equal(t, 1, countEvents(adminConn.recorded(), models.EventDisputeStatus))
	assert.Equal(t, "pro-1:RESOLVED", waitFor(t, f.notifier.statusChanges))
}

func TestUpdateStatusCloseStampsClosedAt(t *testing.T) {
	f := newDisputeFixture()
	chat := &models.Chat{ID: primitive.NewObjectID(), IsDisputeChat: true, DisputeStatus: models.DisputeResolved}
	admin := &models.ChatMember{ChatID: chat.ID, UserID: "admin-1", Role: models.MemberRoleAdmin}
	f.wireStatusChange(chat, admin)
	f.memberDB.On("Find", mock.Anything, mock.Anything).Return([]models.ChatMember{}, nil)

	updated, err := f.svc.UpdateStatus(context.TODO(), "admin-1", chat.ID, models.DisputeClosed)

	assert.Nil(t, err)
	assert.Equal(t, models.DisputeClosed, updated.DisputeStatus)
	assert.NotZero(t, updated.ClosedAt)
}

func TestUpdateStatusReopenFromResolved(t *testing.T) {
	f := newDisputeFixture()
	chat := &models.Chat{ID: primitive.NewObjectID(), IsDisputeChat: true, DisputeStatus: models.DisputeResolved}
	admin := &models.ChatMember{ChatID: chat.ID, UserID: "admin-1", Role: models.MemberRoleAdmin}
	f.wireStatusChange(chat, admin)
	f.memberDB.On("Find", mock.Anything, mock.Anything).Return([]models.ChatMember{}, nil)

	updated, err := f.svc.UpdateStatus(context.TODO(), "admin-1", chat.ID, models.DisputeActive)

	assert.Nil(t, err)
	assert.Equal(t, models.DisputeActive, updated.DisputeStatus)
}

func TestUpdateStatusClosedIsTerminal(t *testing.T) {
	f := newDisputeFixture()
	chat := &models.Chat{ID: primitive.NewObjectID(), IsDisputeChat: true, DisputeStatus: models.DisputeClosed}
	admin := &models.ChatMember{ChatID: chat.ID, UserID: "admin-1", Role: models.MemberRoleAdmin}
	f.wireStatusChange(chat, admin)

	_, err := f.svc.UpdateStatus(context.TODO(), "admin-1", chat.ID, models.DisputeActive)

	cerr := AsChatError(err)
	assert.Equal(t, CodePermissionDenied, cerr.Code)
	assert.Equal(t, models.DisputeClosed, cerr.DisputeStatus)
	f.chatDB.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatusNonAdminDenied(t *testing.T) {
	f := newDisputeFixture()
	chat := &models.Chat{ID: primitive.NewObjectID(), IsDisputeChat: true, DisputeStatus: models.DisputeActive}
	member := &models.ChatMember{ChatID: chat.ID, UserID: "pro-1", Role: models.MemberRoleMember}
	f.wireStatusChange(chat, member)

	_, err := f.svc.UpdateStatus(context.TODO(), "pro-1", chat.ID, models.DisputeResolved)

	assert.Equal(t, CodePermissionDenied, AsChatError(err).Code)
	f.chatDB.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	f := newDisputeFixture()

	_, err := f.svc.UpdateStatus(context.TODO(), "admin-1", primitive.NewObjectID(), "ESCALATED")

	assert.Equal(t, CodeValidationFailed, AsChatError(err).Code)
}

func TestMetricsAveragesClosedDisputes(t *testing.T) {
	f := newDisputeFixture()

	opened := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	closed := []models.Chat{
		{
			CreatedAt: primitive.NewDateTimeFromTime(opened),
			ClosedAt:  primitive.NewDateTimeFromTime(opened.Add(10 * time.Hour)),
		},
		{
			CreatedAt: primitive.NewDateTimeFromTime(opened),
			ClosedAt:  primitive.NewDateTimeFromTime(opened.Add(20 * time.Hour)),
		},
	}

	f.chatDB.On("CountDocuments", mock.Anything, bson.M{"isDisputeChat": true, "disputeStatus": models.DisputeActive}).
		Return(int64(4), nil)
	f.chatDB.On("Find", mock.Anything, bson.M{"isDisputeChat": true, "disputeStatus": models.DisputeClosed}).
		Return(closed, nil)

	metrics, err := f.svc.Metrics(context.TODO())

	assert.Nil(t, err)
	assert.Equal(t, int64(4), metrics.ActiveCount)
	assert.Equal(t, int64(2), metrics.ClosedCount)
	assert.InDelta(t, 15.0, metrics.AvgHoursOpen, 0.001)
}

func TestMetricsNoClosedDisputes(t *testing.T) {
	f := newDisputeFixture()
	f.chatDB.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.chatDB.On("Find", mock.Anything, mock.Anything).Return([]models.Chat{}, nil)

	metrics, err := f.svc.Metrics(context.TODO())

	assert.Nil(t, err)
	assert.Equal(t, 0.0, metrics.AvgHoursOpen)
}
