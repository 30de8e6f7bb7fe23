//go:build !linux

package provider

import "errors"

// NewBtrfs is unavailable off Linux; use the script provider instead.
func NewBtrfs(volume, snapshot string) (Provider, error) {
	return nil, errors.New("btrfs provider requires linux")
}
