package listing

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/logging"
)

const provider = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// countingClient forwards to a Memory store without exposing Update, so the
// controller takes its two-write path. It counts calls and can inject errors.
type countingClient struct {
	inner *kvstore.Memory

	mu      sync.Mutex
	checks  int
	gets    int
	sets    int
	failGet map[string]error
	failSet map[string]error
}

func newCountingClient() *countingClient {
	return &countingClient{
		inner:   kvstore.NewMemory(),
		failGet: map[string]error{},
		failSet: map[string]error{},
	}
}

func (c *countingClient) IsAvailable(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.checks++
	c.mu.Unlock()
	return c.inner.IsAvailable(ctx)
}

func (c *countingClient) GetData(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	err := c.failGet[key]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.inner.GetData(ctx, key)
}

func (c *countingClient) SetData(ctx context.Context, key string, value []byte) (kvstore.Receipt, error) {
	c.mu.Lock()
	c.sets++
	err := c.failSet[key]
	c.mu.Unlock()
	if err != nil {
		return kvstore.Receipt{}, err
	}
	return c.inner.SetData(ctx, key, value)
}

func (c *countingClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks + c.gets + c.sets
}

func (c *countingClient) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func seed(t *testing.T, c kvstore.Client, key, value string) {
	t.Helper()
	_, err := c.SetData(context.Background(), key, []byte(value))
	require.NoError(t, err)
}

func seedIndex(t *testing.T, c kvstore.Client, ids ...string) {
	t.Helper()
	b, err := json.Marshal(ids)
	require.NoError(t, err)
	seed(t, c, IndexKey, string(b))
}

func seedListing(t *testing.T, c kvstore.Client, id string, ts int64, status Status, rep int) {
	t.Helper()
	b, err := json.Marshal(Record{
		Data:        "FHE-e30=",
		Timestamp:   ts,
		Provider:    provider,
		ServiceType: "Oven",
		Reputation:  rep,
		Status:      status,
	})
	require.NoError(t, err)
	seed(t, c, RecordKey(id), string(b))
}

func readIndex(t *testing.T, c kvstore.Client) []string {
	t.Helper()
	raw, err := c.GetData(context.Background(), IndexKey)
	require.NoError(t, err)
	ids, err := decodeIndex(raw)
	require.NoError(t, err)
	return ids
}

func newTestController(c kvstore.Client, opts ...Option) *Controller {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return NewController(c, opts...)
}

func ids(list []Record) []string {
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.ID
	}
	return out
}
