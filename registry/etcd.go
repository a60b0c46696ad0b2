// etcd-backed Directory.
//
// Layout:
//
//	Key:   /osrf/service/{serviceName}/{peerAddress}
//	Value: JSON-encoded Instance
//
// Registration rides a TTL lease with background KeepAlive, so a crashed
// worker drops out of the directory when its lease expires.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/osrf/service/"

// EtcdDirectory implements Directory on etcd v3.
type EtcdDirectory struct {
	client *clientv3.Client
}

// NewEtcdDirectory connects to the given etcd endpoints.
func NewEtcdDirectory(endpoints []string) (*EtcdDirectory, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdDirectory{client: c}, nil
}

// Register leases a directory entry for the worker and keeps it alive in the
// background. The lease id stays local so concurrent registrations through
// one EtcdDirectory do not race.
func (d *EtcdDirectory) Register(serviceName string, inst Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := d.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	_, err = d.client.Put(ctx, keyPrefix+serviceName+"/"+inst.Address, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain renewal acks so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes the worker entry.
func (d *EtcdDirectory) Deregister(serviceName string, address string) error {
	_, err := d.client.Delete(context.TODO(), keyPrefix+serviceName+"/"+address)
	return err
}

// Discover lists live workers under the service prefix.
func (d *EtcdDirectory) Discover(serviceName string) ([]Instance, error) {
	resp, err := d.client.Get(context.TODO(), keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch re-fetches the full worker list on every change under the service
// prefix and emits it.
func (d *EtcdDirectory) Watch(serviceName string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	go func() {
		watchChan := d.client.Watch(context.TODO(), keyPrefix+serviceName+"/", clientv3.WithPrefix())
		for range watchChan {
			instances, _ := d.Discover(serviceName)
			ch <- instances
		}
	}()
	return ch
}

// Close releases the etcd connection.
func (d *EtcdDirectory) Close() error {
	return d.client.Close()
}
