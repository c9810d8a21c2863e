package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type Me struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	WalletID string `json:"walletId"`
}

type Wallet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WalletTransaction struct {
	ID          string    `json:"id"`
	WalletID    string    `json:"walletId"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryID  string    `json:"categoryId"`
	PartnerID   string    `json:"partnerId"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"startsAt"`
	EndsAt      time.Time `json:"endsAt"`
	Points      int64     `json:"points"`
	Capacity    int       `json:"capacity"`
	Status      string    `json:"status"`
}

type EventCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"imageUrl"`
}

// Broadcast is an announcement shown in the student notification list.
type Broadcast struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type Partner struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	WalletID string `json:"walletId"`
}

type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	Rating    int       `json:"rating"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Client) Me(ctx context.Context) (*Me, error) {
	var out Me
	if err := c.get(ctx, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Wallet(ctx context.Context, id string) (*Wallet, error) {
	var out Wallet
	if err := c.get(ctx, "/wallets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WalletHistory lists the transactions of the caller's own wallet.
func (c *Client) WalletHistory(ctx context.Context) ([]WalletTransaction, error) {
	var out []WalletTransaction
	err := c.get(ctx, "/wallets/me/history", nil, &out)
	return out, err
}

// Events lists events; query carries the caller's filters unchanged.
func (c *Client) Events(ctx context.Context, query url.Values) ([]Event, error) {
	var out []Event
	err := c.get(ctx, "/events", query, &out)
	return out, err
}

func (c *Client) EventCategories(ctx context.Context) ([]EventCategory, error) {
	var out []EventCategory
	err := c.get(ctx, "/event-categories", nil, &out)
	return out, err
}

func (c *Client) Products(ctx context.Context, query url.Values) ([]Product, error) {
	var out []Product
	err := c.get(ctx, "/products", query, &out)
	return out, err
}

// StudentEvents lists the events the signed-in student is registered for.
func (c *Client) StudentEvents(ctx context.Context) ([]Event, error) {
	var out []Event
	err := c.get(ctx, "/students/me/events", nil, &out)
	return out, err
}

func (c *Client) Broadcasts(ctx context.Context) ([]Broadcast, error) {
	var out []Broadcast
	err := c.get(ctx, "/me/broadcasts", nil, &out)
	return out, err
}

func (c *Client) MarkBroadcastRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/me/broadcasts/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (c *Client) Partners(ctx context.Context) ([]Partner, error) {
	var out []Partner
	err := c.get(ctx, "/partners", nil, &out)
	return out, err
}

func (c *Client) Feedback(ctx context.Context, query url.Values) ([]Feedback, error) {
	var out []Feedback
	err := c.get(ctx, "/admin/feedback", query, &out)
	return out, err
}

// NeedsOnboarding asks whether the user behind idToken still has to complete
// their profile. The identity token authenticates the call, so a rejection
// here never clears the session.
func (c *Client) NeedsOnboarding(ctx context.Context, idToken string) (bool, error) {
	var out struct {
		NeedsOnboarding bool `json:"needsOnboarding"`
	}
	ctx = WithCredentials(ctx, StaticToken(idToken))
	if err := c.get(ctx, "/me/onboarding", nil, &out); err != nil {
		return false, err
	}
	return out.NeedsOnboarding, nil
}
