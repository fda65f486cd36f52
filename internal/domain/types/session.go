package types

// SessionState is one ratchet state with a peer device plus the handshake
// metadata needed to recognise and answer it.
type SessionState struct {
	Ratchet         RatchetState   `json:"ratchet"`
	BaseKey         X25519Public   `json:"base_key"`
	Initiator       bool           `json:"initiator"`
	PendingPreKey   *PreKeyMessage `json:"pending_pre_key,omitempty"`
	PeerIdentityKey X25519Public   `json:"peer_identity_key"`
	AssociatedData  []byte         `json:"associated_data"`
	CreatedUTC      int64          `json:"created_utc"`
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	out := s
	out.Ratchet = s.Ratchet.Clone()
	out.AssociatedData = append([]byte(nil), s.AssociatedData...)
	if s.PendingPreKey != nil {
		pm := s.PendingPreKey.Clone()
		out.PendingPreKey = &pm
	}
	return out
}

// Session is the persisted pairwise record for one remote device. Current is
// used for encryption; Archived states are still tried on decryption.
type Session struct {
	Peer     DeviceAddress  `json:"peer"`
	Current  SessionState   `json:"current"`
	Archived []SessionState `json:"archived,omitempty"`
}
