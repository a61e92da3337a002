package domain

// ICEConfig is the relay-provided connectivity configuration. When the
// registry has no TURN server configured (or the fetch fails), callers fall
// back to DefaultICEConfig.
type ICEConfig struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (c ICEConfig) Empty() bool {
	return len(c.URLs) == 0
}

func DefaultICEConfig() ICEConfig {
	return ICEConfig{URLs: []string{"stun:stun.l.google.com:19302"}}
}
