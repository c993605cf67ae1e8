package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/winloss-engine/generic"
)

func TestBroker_NotifyNeverBlocks(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	require.Equal(t, 1, b.Clients())

	// more changes than the client buffer holds
	for i := 0; i < 40; i++ {
		b.Notify(context.Background(), generic.LedgerChange{Kind: "winloss.created", CustomerID: int64(i)})
	}
	assert.Len(t, ch, cap(ch))

	var first generic.LedgerChange
	require.NoError(t, json.Unmarshal(<-ch, &first))
	assert.Equal(t, int64(0), first.CustomerID)

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.Clients())

	var nilBroker *Broker
	nilBroker.Notify(context.Background(), generic.LedgerChange{})
	assert.Nil(t, nilBroker.Subscribe())
}

func TestStream_DeliversRecordedEvents(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		return ""
	}
	require.Equal(t, "{}", next()) // ready

	// WHEN: an event is recorded while the client listens
	a.lossAt("100")

	// THEN: the client receives the change
	var change generic.LedgerChange
	require.NoError(t, json.Unmarshal([]byte(next()), &change))
	assert.Equal(t, "winloss.created", change.Kind)
	assert.Equal(t, int64(1), change.CustomerID)
	assert.Equal(t, "2025-03-10", change.Day)
}

func TestBroker_CloseEndsSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()

	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Clients())
	b.Unsubscribe(ch) // already closed, no panic
}
