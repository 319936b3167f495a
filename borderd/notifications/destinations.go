package notifications

import (
	"net/url"
	"os"
	"sort"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Destinations resolves channel references to delivery destinations.
type Destinations struct {
	byRef map[string]Destination
}

type destinationsFile struct {
	Destinations map[string]struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"destinations"`
}

// LoadDestinations reads a destinations YAML file. An empty path yields a
// resolver that only accepts literal webhook URLs.
func LoadDestinations(path string) (*Destinations, error) {
	if path == "" {
		return &Destinations{byRef: map[string]Destination{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read destinations %q: %w", path, err)
	}
	d, err := ParseDestinations(data)
	if err != nil {
		return nil, xerrors.Errorf("parse destinations %q: %w", path, err)
	}
	return d, nil
}

// ParseDestinations parses the YAML destinations document.
func ParseDestinations(data []byte) (*Destinations, error) {
	var f destinationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, xerrors.Errorf("unmarshal: %w", err)
	}
	d := &Destinations{byRef: make(map[string]Destination, len(f.Destinations))}
	for ref, entry := range f.Destinations {
		if !isWebhookURL(entry.WebhookURL) {
			return nil, xerrors.Errorf("destination %q: webhook_url must be an http(s) URL", ref)
		}
		d.byRef[ref] = Destination{Ref: ref, URL: entry.WebhookURL}
	}
	return d, nil
}

// Resolve returns the destination for ref. A ref that is itself a webhook
// URL resolves to itself.
func (d *Destinations) Resolve(ref string) (Destination, bool) {
	if d != nil {
		if dest, ok := d.byRef[ref]; ok {
			return dest, true
		}
	}
	if isWebhookURL(ref) {
		return Destination{Ref: ref, URL: ref}, true
	}
	return Destination{}, false
}

// Refs returns the configured references in sorted order.
func (d *Destinations) Refs() []string {
	if d == nil {
		return nil
	}
	refs := make([]string, 0, len(d.byRef))
	for ref := range d.byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func isWebhookURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
