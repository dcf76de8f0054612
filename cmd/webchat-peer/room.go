package main

import (
	"fmt"
	"net/url"
)

// fragmentOf returns the decoded fragment of a room URL.
func fragmentOf(roomURL string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	return u.Fragment, nil
}

// withFragment returns roomURL with its fragment replaced by secret, the link
// other participants need to join the same room.
func withFragment(roomURL, secret string) (string, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	u.Fragment = secret
	u.RawFragment = ""
	return u.String(), nil
}
