package upgrades

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expopass/backend/internal/mailer"
	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/payments"
	"github.com/expopass/backend/internal/registrations"
)

type stubOrders struct {
	lastOrder payments.Order
	url       string
	err       error
	calls     int
}

func (s *stubOrders) CreateOrder(ctx context.Context, order payments.Order) (string, error) {
	s.calls++
	s.lastOrder = order
	return s.url, s.err
}

type stubMailer struct {
	messages []mailer.Message
}

func (s *stubMailer) Send(ctx context.Context, msg mailer.Message) (*mailer.SendResult, error) {
	s.messages = append(s.messages, msg)
	return &mailer.SendResult{Success: true}, nil
}

type failMailer struct{}

func (failMailer) Send(ctx context.Context, msg mailer.Message) (*mailer.SendResult, error) {
	return nil, fmt.Errorf("smtp down")
}

func seed(t *testing.T, store *registrations.InMemory, role models.Role, email string) *models.Registration {
	t.Helper()
	res, err := store.Save(context.Background(), role, map[string]interface{}{"email": email}, registrations.SaveOptions{})
	require.NoError(t, err)
	return res.Registration
}

func TestUpgradePaidCreatesOrderOnly(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "paid@x.com")
	orders := &stubOrders{url: "https://pay.example.com/c/1"}
	svc := NewService(store, orders, nil, "EUR", "https://front.example.com", nil)

	res, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "vip", 4900, "")
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/c/1", res.CheckoutURL)
	assert.False(t, res.Upgraded)
	assert.Equal(t, "EUR", orders.lastOrder.Currency)
	assert.Equal(t, 4900, orders.lastOrder.AmountCents)
	assert.Equal(t, "vip", orders.lastOrder.Metadata["new_category"])

	// Nothing mutated until the payment callback lands.
	after, err := store.GetByID(context.Background(), models.RoleVisitor, reg.ID)
	require.NoError(t, err)
	assert.Empty(t, after.TicketCategory)
	assert.Nil(t, after.UpgradedAt)
}

func TestUpgradePaidUpstreamFailure(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "fail@x.com")
	orders := &stubOrders{err: payments.ErrUpstream}
	svc := NewService(store, orders, nil, "", "", nil)

	_, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "vip", 4900, "")
	assert.ErrorIs(t, err, payments.ErrUpstream)
}

func TestUpgradePaidWithoutGatewayConfigured(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "nogw@x.com")
	svc := NewService(store, nil, nil, "", "", nil)

	_, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "vip", 4900, "")
	assert.ErrorIs(t, err, payments.ErrUpstream)
}

func TestUpgradeFreeAppliesImmediately(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleSpeaker, "free@x.com")
	orders := &stubOrders{url: "https://pay.example.com/never"}
	mail := &stubMailer{}
	svc := NewService(store, orders, mail, "", "https://front.example.com", nil)

	res, err := svc.Upgrade(context.Background(), models.RoleSpeaker, reg.ID, "vip", 0, "")
	require.NoError(t, err)

	assert.True(t, res.Upgraded)
	assert.Empty(t, res.CheckoutURL)
	assert.Equal(t, reg.TicketCode, res.TicketCode)
	assert.Zero(t, orders.calls)

	after, err := store.GetByID(context.Background(), models.RoleSpeaker, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "vip", after.TicketCategory)
	assert.NotNil(t, after.UpgradedAt)

	require.Len(t, mail.messages, 1)
	assert.Equal(t, []string{"free@x.com"}, mail.messages[0].To)
	assert.Equal(t, models.EmailTypeUpgradeConfirmation, mail.messages[0].EmailType)
}

func TestUpgradeFreeMailFailureDoesNotRollBack(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "nomail@x.com")
	svc := NewService(store, nil, failMailer{}, "", "", nil)

	res, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "vip", 0, "")
	require.NoError(t, err)
	assert.True(t, res.Upgraded)

	after, err := store.GetByID(context.Background(), models.RoleVisitor, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, "vip", after.TicketCategory)
}

func TestUpgradeEmailOverride(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "orig@x.com")
	mail := &stubMailer{}
	svc := NewService(store, nil, mail, "", "", nil)

	_, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "vip", 0, "other@x.com")
	require.NoError(t, err)

	require.Len(t, mail.messages, 1)
	assert.Equal(t, []string{"other@x.com"}, mail.messages[0].To)
}

func TestUpgradeUnknownRegistration(t *testing.T) {
	store := registrations.NewInMemory(nil)
	svc := NewService(store, nil, nil, "", "", nil)

	_, err := svc.Upgrade(context.Background(), models.RoleVisitor, seed(t, store, models.RoleSpeaker, "wrongtable@x.com").ID, "vip", 0, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpgradeRequiresCategory(t *testing.T) {
	store := registrations.NewInMemory(nil)
	reg := seed(t, store, models.RoleVisitor, "nocat@x.com")
	svc := NewService(store, nil, nil, "", "", nil)

	_, err := svc.Upgrade(context.Background(), models.RoleVisitor, reg.ID, "", 0, "")
	assert.Error(t, err)
}
