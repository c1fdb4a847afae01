package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var evmAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress accepts an Ethereum address (0x + 40 hex) or a TRON base58
// address (T..., 34 or 35 chars). Labels such as "ETHERSCAN" are rejected.
func ValidAddress(addr string) bool {
	s := strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(s, "0x"):
		return evmAddress.MatchString(s)
	case strings.HasPrefix(s, "T"):
		return len(s) >= 34 && len(s) <= 35
	default:
		return false
	}
}

// NormalizeAddress lowercases Ethereum addresses; TRON base58 is case-sensitive.
func NormalizeAddress(addr string) string {
	s := strings.TrimSpace(addr)
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		return strings.ToLower(s)
	}
	return s
}

type clientWallets struct {
	name    string
	wallets map[string]struct{}
}

// Registry maps client names to their registered wallets. It is read-only.
type Registry struct {
	clients []clientWallets
}

// NewRegistry builds a registry from name → addresses. Invalid addresses are dropped.
func NewRegistry(entries map[string][]string) *Registry {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Registry{}
	for _, name := range names {
		r.add(name, entries[name])
	}
	return r
}

func (r *Registry) add(name string, addrs []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	set := map[string]struct{}{}
	for _, a := range addrs {
		if ValidAddress(a) {
			set[NormalizeAddress(a)] = struct{}{}
		}
	}
	r.clients = append(r.clients, clientWallets{name: name, wallets: set})
}

// Len is the number of registered clients.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.clients)
}

// Wallets returns every address registered to the named clients, matched
// case-insensitively.
func (r *Registry) Wallets(clients ...string) map[string]struct{} {
	out := map[string]struct{}{}
	if r == nil {
		return out
	}
	for _, c := range clients {
		for _, entry := range r.clients {
			if strings.EqualFold(entry.name, strings.TrimSpace(c)) {
				for a := range entry.wallets {
					out[a] = struct{}{}
				}
			}
		}
	}
	return out
}

// Owner returns the first registered client, other than those excluded,
// that owns addr.
func (r *Registry) Owner(addr string, exclude ...string) string {
	if r == nil {
		return ""
	}
	addr = NormalizeAddress(addr)
	for _, entry := range r.clients {
		if containsFold(exclude, entry.name) {
			continue
		}
		if _, ok := entry.wallets[addr]; ok {
			return entry.name
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

type clientFile struct {
	Name    string   `json:"nome"`
	Wallets []string `json:"carteiras"`
}

// LoadRegistry reads one {nome, carteiras} JSON file per client from dir.
// When dir holds no client, the legacy single-file map {client: [addresses]}
// at legacyFile is read instead. Missing locations and malformed files are skipped.
func LoadRegistry(dir, legacyFile string) (*Registry, error) {
	r := &Registry{}
	if dir != "" {
		if err := r.loadDir(dir); err != nil {
			return nil, err
		}
	}
	if r.Len() > 0 || legacyFile == "" {
		return r, nil
	}
	return loadLegacy(legacyFile)
}

func (r *Registry) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read wallets dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var cf clientFile
		if err := json.Unmarshal(data, &cf); err != nil {
			continue
		}
		r.add(cf.Name, cf.Wallets)
	}
	return nil
}

func loadLegacy(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &Registry{}, nil
	}
	entries := map[string][]string{}
	for name, v := range raw {
		var list []string
		if err := json.Unmarshal(v, &list); err != nil {
			var single string
			if err := json.Unmarshal(v, &single); err != nil {
				continue
			}
			list = []string{single}
		}
		entries[name] = list
	}
	return NewRegistry(entries), nil
}

// Clients returns the registered client names in order.
func (r *Registry) Clients() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.name)
	}
	return out
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives a file name stem from a client name.
func Slug(name string) string {
	s := slugInvalid.ReplaceAllString(normalizeColumn(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "cliente"
	}
	return s
}

// SaveClient writes one client's wallets as {nome, carteiras} under dir,
// replacing any previous file for the same name. Invalid addresses are dropped.
func SaveClient(dir, name string, wallets []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("client name required")
	}
	valid := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if ValidAddress(w) {
			valid = append(valid, strings.TrimSpace(w))
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create wallets dir: %w", err)
	}
	data, err := json.MarshalIndent(clientFile{Name: name, Wallets: valid}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode client %s: %w", name, err)
	}
	path := filepath.Join(dir, Slug(name)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write client %s: %w", name, err)
	}
	return path, nil
}
