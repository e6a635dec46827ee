package momo

import (
	"fmt"
	"sort"
)

// Network is a carrier code understood by the provider.
type Network string

const (
	NetworkMTN        Network = "300591"
	NetworkAirtelTigo Network = "300592"
	NetworkTelecel    Network = "300594"
)

var networkNames = map[Network]string{
	NetworkMTN:        "MTN",
	NetworkAirtelTigo: "AirtelTigo",
	NetworkTelecel:    "Telecel",
}

// ParseNetwork returns the network for a carrier code.
func ParseNetwork(code string) (Network, error) {
	n := Network(code)
	if _, ok := networkNames[n]; !ok {
		return "", fmt.Errorf("unsupported network: %q", code)
	}
	return n, nil
}

func (n Network) Name() string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return string(n)
}

// SupportedNetworks returns the known carrier codes in ascending order.
func SupportedNetworks() []Network {
	networks := make([]Network, 0, len(networkNames))
	for n := range networkNames {
		networks = append(networks, n)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// NetworkCodes is SupportedNetworks as plain values, for validation rules.
func NetworkCodes() []any {
	networks := SupportedNetworks()
	codes := make([]any, 0, len(networks))
	for _, n := range networks {
		codes = append(codes, string(n))
	}
	return codes
}
