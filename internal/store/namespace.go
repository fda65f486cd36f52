package store

// Separator joins namespace prefixes and key segments.
const Separator = "/"

// NamespacedKV prefixes every key so several users can share one backend.
type NamespacedKV struct {
	kv     KV
	prefix string
}

// Namespace returns a view of kv whose keys live under prefix.
func Namespace(kv KV, prefix string) *NamespacedKV {
	if n, ok := kv.(*NamespacedKV); ok {
		return &NamespacedKV{kv: n.kv, prefix: n.prefix + escapeSegment(prefix) + Separator}
	}
	return &NamespacedKV{kv: kv, prefix: escapeSegment(prefix) + Separator}
}

// Prefix returns the full key prefix.
func (n *NamespacedKV) Prefix() string { return n.prefix }

func (n *NamespacedKV) Get(key string) ([]byte, error)     { return n.kv.Get(n.prefix + key) }
func (n *NamespacedKV) Put(key string, value []byte) error { return n.kv.Put(n.prefix+key, value) }
func (n *NamespacedKV) Delete(key string) error            { return n.kv.Delete(n.prefix + key) }

var _ KV = (*NamespacedKV)(nil)
