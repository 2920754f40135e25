package coordinator

import (
	"context"
	"log"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// PeerStore persists a Coordinator's peer table so a restart does not lose
// the mesh. It is optional: a Coordinator with a nil Store runs with a pure
// in-memory peer table, exactly per §3. Watch lets a Coordinator pick up
// peer-table edits made out of band (another Coordinator instance, or a
// direct etcd write) without waiting for its own next Save.
type PeerStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, peers map[string]string) error
	Watch(ctx context.Context) <-chan map[string]string
}

// EtcdPeerStore implements PeerStore on etcd v3, repurposing the teacher's
// TTL-lease service-registry idiom (registry/etcd_registry.go) as a single
// durable key per Coordinator namespace instead of per-instance leases —
// peer addresses don't expire on their own the way ephemeral RPC service
// instances do, so no lease/KeepAlive is attached here.
type EtcdPeerStore struct {
	client    *clientv3.Client
	keyPrefix string
}

// NewEtcdPeerStore connects to the given etcd endpoints and scopes all keys
// under /leco/coordinators/<namespace>/peers/.
func NewEtcdPeerStore(endpoints []string, namespace string) (*EtcdPeerStore, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdPeerStore{
		client:    c,
		keyPrefix: "/leco/coordinators/" + namespace + "/peers/",
	}, nil
}

// Load fetches every known peer namespace -> address mapping.
func (s *EtcdPeerStore) Load(ctx context.Context) (map[string]string, error) {
	resp, err := s.client.Get(ctx, s.keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		ns := string(kv.Key[len(s.keyPrefix):])
		peers[ns] = string(kv.Value)
	}
	return peers, nil
}

// Save overwrites the stored peer table with the given namespace -> address
// mapping. Entries no longer present are deleted.
func (s *EtcdPeerStore) Save(ctx context.Context, peers map[string]string) error {
	existing, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for ns, addr := range peers {
		if _, err := s.client.Put(ctx, s.keyPrefix+ns, addr); err != nil {
			return err
		}
	}
	for ns := range existing {
		if _, ok := peers[ns]; !ok {
			if _, err := s.client.Delete(ctx, s.keyPrefix+ns); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watch streams the full peer table every time any key under keyPrefix
// changes, until ctx is cancelled. It re-reads the whole prefix on each
// watch event rather than applying the diff itself, trading a little
// extra etcd traffic for a consumer that never has to reconcile partial
// updates.
func (s *EtcdPeerStore) Watch(ctx context.Context) <-chan map[string]string {
	out := make(chan map[string]string)
	go func() {
		defer close(out)
		watchCh := s.client.Watch(ctx, s.keyPrefix, clientv3.WithPrefix())
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if resp.Err() != nil {
					log.Printf("coordinator: peer store watch error: %v", resp.Err())
					return
				}
				if len(resp.Events) == 0 {
					continue
				}
				peers, err := s.Load(ctx)
				if err != nil {
					log.Printf("coordinator: peer store reload after watch event failed: %v", err)
					continue
				}
				select {
				case out <- peers:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// watchPeers merges out-of-band peer-table edits (another Coordinator
// process sharing this Store, or a direct etcd write) into the in-memory
// table as they arrive, until the Coordinator shuts down. Only new
// namespaces are added; it never evicts or overwrites an address this
// process already knows, since Save's own read-modify-write could race a
// watch event for the same edit it just made.
func (c *Coordinator) watchPeers() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.stopCh
		cancel()
	}()
	for peers := range c.Store.Watch(ctx) {
		var added []string
		c.mu.Lock()
		for ns, addr := range peers {
			if ns == c.Namespace {
				continue
			}
			if _, exists := c.peers[ns]; !exists {
				c.peers[ns] = &PeerRecord{Namespace: ns, Address: addr}
				added = append(added, ns)
			}
		}
		c.mu.Unlock()
		for _, ns := range added {
			c.mu.RLock()
			addr := c.peers[ns].Address
			c.mu.RUnlock()
			if addr != "" {
				go c.connectToPeer(ns, addr)
			}
		}
	}
}

// persistPeers writes the current peer table to Store, logging (not
// failing) on error — persistence is a durability aid, not a correctness
// requirement of the in-memory routing path.
func (c *Coordinator) persistPeers() {
	c.mu.RLock()
	peers := make(map[string]string, len(c.peers))
	for ns, rec := range c.peers {
		peers[ns] = rec.Address
	}
	c.mu.RUnlock()
	if err := c.Store.Save(context.Background(), peers); err != nil {
		log.Printf("coordinator: peer store save failed: %v", err)
	}
}
