package alpaca

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-alpaca/pkg/errors"
	"go.uber.org/zap"
)

// Watchlist is a named, ordered list of assets.
type Watchlist struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	Assets    []Asset    `json:"assets"`
	Extra     Extra      `json:"-"`

	watchlists *Watchlists
}

var watchlistFields = jsonFieldNames(reflect.TypeOf(Watchlist{}))

// UnmarshalJSON replaces every field of the watchlist with the record in data.
func (w *Watchlist) UnmarshalJSON(data []byte) error {
	type plain Watchlist

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	extra, err := splitExtra(data, watchlistFields)
	if err != nil {
		return err
	}

	owner := w.watchlists
	*w = Watchlist(decoded)
	w.Extra = extra
	w.watchlists = owner

	return nil
}

// MarshalJSON encodes the named fields together with Extra.
func (w Watchlist) MarshalJSON() ([]byte, error) {
	type plain Watchlist

	data, err := json.Marshal(plain(w))
	if err != nil {
		return nil, err
	}

	return mergeExtra(data, w.Extra)
}

// Symbols returns the symbols of the watchlist assets in order.
func (w *Watchlist) Symbols() []string {
	symbols := make([]string, 0, len(w.Assets))
	for _, asset := range w.Assets {
		symbols = append(symbols, asset.Symbol)
	}

	return symbols
}

// Update replaces the name and the symbols of the watchlist.
func (w *Watchlist) Update(ctx context.Context, req WatchlistRequest) (*Watchlist, error) {
	if w.watchlists == nil {
		return nil, errUnboundWatchlist()
	}

	return w.watchlists.mutate(ctx, w, Request{
		Method:   http.MethodPut,
		Host:     HostAccount,
		Endpoint: "watchlists/" + url.PathEscape(w.ID),
		Data:     req,
	})
}

// Add appends symbol to the watchlist.
func (w *Watchlist) Add(ctx context.Context, symbol string) (*Watchlist, error) {
	if w.watchlists == nil {
		return nil, errUnboundWatchlist()
	}

	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "watchlist symbol is required")
	}

	return w.watchlists.mutate(ctx, w, Request{
		Method:   http.MethodPost,
		Host:     HostAccount,
		Endpoint: "watchlists/" + url.PathEscape(w.ID),
		Data:     map[string]any{"symbol": symbol},
	})
}

// Remove drops symbol from the watchlist.
func (w *Watchlist) Remove(ctx context.Context, symbol string) (*Watchlist, error) {
	if w.watchlists == nil {
		return nil, errUnboundWatchlist()
	}

	if symbol == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "watchlist symbol is required")
	}

	return w.watchlists.mutate(ctx, w, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "watchlists/" + url.PathEscape(w.ID) + "/" + url.PathEscape(symbol),
	})
}

// Delete removes the watchlist at the broker and from the cache.
func (w *Watchlist) Delete(ctx context.Context) error {
	if w.watchlists == nil {
		return errUnboundWatchlist()
	}

	return w.watchlists.delete(ctx, w)
}

func errUnboundWatchlist() error {
	return errors.New(errors.ErrCodeInvalidParameter, "watchlist is not bound to a watchlist collection")
}

// WatchlistRequest is the body of create and update calls.
type WatchlistRequest struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols,omitempty"`
}

// Watchlists is the watchlist collection.
type Watchlists struct {
	requester    Requester
	logger       *zap.Logger
	cacheEnabled bool
	cache        *entityCache[*Watchlist]
}

// NewWatchlists creates a watchlist collection issuing requests through requester.
func NewWatchlists(requester Requester, cacheEnabled bool, opts ...Option) *Watchlists {
	o := newOptions(opts)

	return &Watchlists{
		requester:    requester,
		logger:       o.logger,
		cacheEnabled: cacheEnabled,
		cache:        newEntityCache[*Watchlist](),
	}
}

// Get fetches one watchlist by id.
func (c *Watchlists) Get(ctx context.Context, id string) (*Watchlist, error) {
	if id == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "watchlist id is required")
	}

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     HostAccount,
		Endpoint: "watchlists/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}

	watchlist := c.bind(&Watchlist{})
	if err := resp.Decode(watchlist); err != nil {
		return nil, err
	}

	c.store(watchlist)

	return watchlist, nil
}

// List fetches every watchlist in the order the broker returns them.
func (c *Watchlists) List(ctx context.Context) ([]*Watchlist, error) {
	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodGet,
		Host:     HostAccount,
		Endpoint: "watchlists",
	})
	if err != nil {
		return nil, err
	}

	var watchlists []*Watchlist
	if err := resp.Decode(&watchlists); err != nil {
		return nil, err
	}

	for _, watchlist := range watchlists {
		c.bind(watchlist)
		c.store(watchlist)
	}

	return watchlists, nil
}

// Create creates a watchlist. The name is required and checked before any
// request is made.
func (c *Watchlists) Create(ctx context.Context, req WatchlistRequest) (*Watchlist, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "watchlist name is required")
	}

	resp, err := c.requester.Do(ctx, Request{
		Method:   http.MethodPost,
		Host:     HostAccount,
		Endpoint: "watchlists",
		Data:     req,
	})
	if err != nil {
		return nil, err
	}

	watchlist := c.bind(&Watchlist{})
	if err := resp.Decode(watchlist); err != nil {
		return nil, err
	}

	c.store(watchlist)

	c.logger.Info("Watchlist created", zap.String("id", watchlist.ID), zap.String("name", watchlist.Name))

	return watchlist, nil
}

// GetByID returns the cached watchlist with id.
func (c *Watchlists) GetByID(id string) optional.Option[*Watchlist] {
	if watchlist, ok := c.cache.get(id); ok {
		return optional.Some(watchlist)
	}

	return optional.None[*Watchlist]()
}

// Has reports whether a watchlist with id is cached.
func (c *Watchlists) Has(id string) bool {
	_, ok := c.cache.get(id)

	return ok
}

// Delete removes the watchlist with id from the cache.
func (c *Watchlists) Delete(id string) bool {
	return c.cache.remove(id)
}

// Cached returns every cached watchlist ordered by id.
func (c *Watchlists) Cached() []*Watchlist {
	return c.cache.values()
}

func (c *Watchlists) mutate(ctx context.Context, watchlist *Watchlist, req Request) (*Watchlist, error) {
	resp, err := c.requester.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := resp.Decode(watchlist); err != nil {
		return nil, err
	}

	c.store(watchlist)

	return watchlist, nil
}

func (c *Watchlists) delete(ctx context.Context, watchlist *Watchlist) error {
	_, err := c.requester.Do(ctx, Request{
		Method:   http.MethodDelete,
		Host:     HostAccount,
		Endpoint: "watchlists/" + url.PathEscape(watchlist.ID),
	})
	if err != nil {
		return err
	}

	c.cache.remove(watchlist.ID)

	c.logger.Info("Watchlist deleted", zap.String("id", watchlist.ID))

	return nil
}

func (c *Watchlists) bind(watchlist *Watchlist) *Watchlist {
	watchlist.watchlists = c

	return watchlist
}

func (c *Watchlists) store(watchlist *Watchlist) {
	if c.cacheEnabled {
		c.cache.set(watchlist.ID, watchlist)
	}
}
