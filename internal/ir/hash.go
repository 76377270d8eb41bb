package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainProperties   = "actiongraph/props/v1"
	DomainRelationship = "actiongraph/rel/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes a property set. Two property sets have the same
// fingerprint exactly when they are Equal.
func Fingerprint(props IRObject) (string, error) {
	if props == nil {
		props = IRObject{}
	}
	canonical, err := MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProperties, canonical), nil
}

// RelationshipFingerprint identifies a relationship by everything except its
// id: type, endpoints and properties. Relationships that share a fingerprint
// are interchangeable parallel edges.
func RelationshipFingerprint(relType, startID, endID string, props IRObject) (string, error) {
	if props == nil {
		props = IRObject{}
	}
	obj := IRObject{
		"type":  IRString(relType),
		"start": IRString(startID),
		"end":   IRString(endID),
		"props": props,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("RelationshipFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRelationship, canonical), nil
}
