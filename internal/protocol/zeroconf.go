package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	airplayService = "_airplay._tcp"
	mdnsDomain     = "local."
)

// browseFunc matches zeroconf.Resolver.Browse; swappable in tests.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// ZeroconfScanner discovers AirPlay devices via mDNS/DNS-SD browsing.
type ZeroconfScanner struct {
	browse browseFunc // nil means a real mDNS browse
}

// NewZeroconfScanner creates a scanner browsing all interfaces.
func NewZeroconfScanner() *ZeroconfScanner {
	return &ZeroconfScanner{}
}

// Scan browses for AirPlay responders until ctx is done.
func (z *ZeroconfScanner) Scan(ctx context.Context) ([]Descriptor, error) {
	browse := z.browse
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("zeroconf: create resolver: %w", err)
		}
		browse = resolver.Browse
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		wg    sync.WaitGroup
		found []Descriptor
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			d, ok := descriptorFromEntry(entry)
			if !ok {
				continue
			}
			found = append(found, d)
		}
	}()

	if err := browse(ctx, airplayService, mdnsDomain, entries); err != nil {
		// Browse only closes entries once started; release the collector.
		close(entries)
		wg.Wait()
		return nil, fmt.Errorf("zeroconf: browse: %w", err)
	}
	<-ctx.Done()
	wg.Wait()

	slog.Debug("zeroconf: scan finished", "found", len(found))
	return found, nil
}

// Lookup browses for a single device by id. Pairing requirements are only
// known from a live entry, so registry pairing paths always come here rather
// than reading the persisted catalog.
func (z *ZeroconfScanner) Lookup(ctx context.Context, id string) (*Descriptor, error) {
	descriptors, err := z.Scan(ctx)
	if err != nil {
		return nil, err
	}
	for i := range descriptors {
		if descriptors[i].ID == id {
			return &descriptors[i], nil
		}
	}
	return nil, nil
}

// descriptorFromEntry converts an mDNS service entry to a Descriptor.
// Entries without a resolvable IPv4 address are skipped.
func descriptorFromEntry(entry *zeroconf.ServiceEntry) (Descriptor, bool) {
	if len(entry.AddrIPv4) == 0 {
		return Descriptor{}, false
	}

	id := txtValue(entry.Text, "deviceid")
	if id == "" {
		id = entry.Instance
	}

	return Descriptor{
		ID:       id,
		Name:     entry.Instance,
		Address:  entry.AddrIPv4[0].String(),
		Port:     entry.Port,
		Services: []string{ServiceAirPlay},
		Pairing:  pairingFromTXT(entry.Text),
	}, true
}

// pairingFromTXT derives the pairing requirement from AirPlay TXT records.
// Devices that explicitly disable access control report NotNeeded; everything
// else is treated as requiring a pairing exchange.
func pairingFromTXT(txt []string) PairingRequirement {
	if txtValue(txt, "pw") == "0" && txtValue(txt, "pin") != "1" {
		return PairingNotNeeded
	}
	return PairingMandatory
}

// txtValue returns the value of a key=value TXT record, or "".
func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, t := range txt {
		if strings.HasPrefix(strings.ToLower(t), prefix) {
			return t[len(prefix):]
		}
	}
	return ""
}
