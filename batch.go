package tidekv

import (
	"context"
	"fmt"

	"github.com/tidekv/tidekv/kv"
	"github.com/tidekv/tidekv/wire"
)

// serverBatch collects the positions of a batch that route to one server.
// indexes point back into the caller's slice so results can be reassembled
// in input order.
type serverBatch struct {
	sp      *serverPool
	indexes []int
}

// partitionKeys groups batch positions by owning server, validating every
// key up front so a bad key fails the whole batch before any I/O.
func (c *Client) partitionKeys(keys []string) ([]*serverBatch, error) {
	batches := make([]*serverBatch, 0, 1)
	byAddr := make(map[string]*serverBatch, 1)

	for i, key := range keys {
		if err := validateKey(key); err != nil {
			c.stats.recordError()
			return nil, fmt.Errorf("%w (key %d)", err, i)
		}
		addr, err := c.selectServer(key, c.servers)
		if err != nil {
			c.stats.recordError()
			return nil, err
		}
		b, ok := byAddr[addr]
		if !ok {
			sp, err := c.getOrCreatePool(addr)
			if err != nil {
				c.stats.recordError()
				return nil, err
			}
			b = &serverBatch{sp: sp}
			byAddr[addr] = b
			batches = append(batches, b)
		}
		b.indexes = append(b.indexes, i)
	}
	return batches, nil
}

// listResult decodes an OK response carrying a list of exactly want elements.
func listResult(resp *wire.Response, want int) ([]kv.Value, error) {
	value, err := resp.Value()
	if err != nil {
		return nil, err
	}
	elems, ok := value.List()
	if !ok {
		return nil, fmt.Errorf("tidekv: expected list response, got %s", value.Kind())
	}
	if len(elems) != want {
		return nil, fmt.Errorf("tidekv: expected %d list elements, got %d", want, len(elems))
	}
	return elems, nil
}

// MGet retrieves many keys in one round trip per server. Results come back
// in input order; missing keys have Found=false. A stored Null value is
// indistinguishable from a miss here, use Exists when that matters.
func (c *Client) MGet(ctx context.Context, keys []string) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	batches, err := c.partitionKeys(keys)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(keys))
	for _, b := range batches {
		serverKeys := make([]string, len(b.indexes))
		for i, idx := range b.indexes {
			serverKeys[i] = keys[idx]
		}

		resp, err := c.exec(ctx, b.sp, &wire.Request{Op: wire.OpMGet, Keys: serverKeys})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			c.stats.recordError()
			return nil, errorFromResponse(resp)
		}
		elems, err := listResult(resp, len(b.indexes))
		if err != nil {
			c.stats.recordError()
			return nil, err
		}

		for i, idx := range b.indexes {
			found := elems[i].Kind() != kv.KindNull
			c.stats.recordGet(found)
			items[idx] = Item{Key: keys[idx], Found: found}
			if found {
				items[idx].Value = elems[i]
			}
		}
	}
	return items, nil
}

// MSet stores many items in one round trip per server. Either every item on
// a server is stored or none of them is; across servers the batch is not
// atomic.
func (c *Client) MSet(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key
	}
	batches, err := c.partitionKeys(keys)
	if err != nil {
		return err
	}

	for _, b := range batches {
		wireItems := make([]wire.Item, len(b.indexes))
		for i, idx := range b.indexes {
			wireItems[i] = wire.Item{
				Key:   items[idx].Key,
				Value: items[idx].Value,
				TTL:   items[idx].TTL,
			}
		}

		resp, err := c.exec(ctx, b.sp, &wire.Request{Op: wire.OpMSet, Items: wireItems})
		if err != nil {
			return err
		}
		if resp.IsError() {
			c.stats.recordError()
			return errorFromResponse(resp)
		}
		c.stats.recordSet(len(b.indexes))
	}
	return nil
}

// MDel removes many keys and returns how many existed.
func (c *Client) MDel(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	batches, err := c.partitionKeys(keys)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, b := range batches {
		serverKeys := make([]string, len(b.indexes))
		for i, idx := range b.indexes {
			serverKeys[i] = keys[idx]
		}

		resp, err := c.exec(ctx, b.sp, &wire.Request{Op: wire.OpMDel, Keys: serverKeys})
		if err != nil {
			return removed, err
		}
		if resp.IsError() {
			c.stats.recordError()
			return removed, errorFromResponse(resp)
		}
		value, err := resp.Value()
		if err != nil {
			c.stats.recordError()
			return removed, err
		}
		n, ok := value.Int()
		if !ok {
			c.stats.recordError()
			return removed, fmt.Errorf("tidekv: expected integer response, got %s", value.Kind())
		}
		removed += n
		c.stats.recordDelete(len(b.indexes))
	}
	return removed, nil
}

// MExists checks many keys in one round trip per server. Results come back
// in input order.
func (c *Client) MExists(ctx context.Context, keys []string) ([]bool, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	batches, err := c.partitionKeys(keys)
	if err != nil {
		return nil, err
	}

	exists := make([]bool, len(keys))
	for _, b := range batches {
		serverKeys := make([]string, len(b.indexes))
		for i, idx := range b.indexes {
			serverKeys[i] = keys[idx]
		}

		resp, err := c.exec(ctx, b.sp, &wire.Request{Op: wire.OpMExists, Keys: serverKeys})
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			c.stats.recordError()
			return nil, errorFromResponse(resp)
		}
		elems, err := listResult(resp, len(b.indexes))
		if err != nil {
			c.stats.recordError()
			return nil, err
		}

		for i, idx := range b.indexes {
			ok, isBool := elems[i].Bool()
			if !isBool {
				c.stats.recordError()
				return nil, fmt.Errorf("tidekv: expected boolean list element, got %s", elems[i].Kind())
			}
			exists[idx] = ok
		}
	}
	return exists, nil
}
