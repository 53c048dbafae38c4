package models

import (
	"strings"
	"time"
)

type ProofKind string

const (
	ProofUTR                ProofKind = "UTR"
	ProofTxHash             ProofKind = "TX_HASH"
	ProofProcessorSignature ProofKind = "PROCESSOR_SIGNATURE"
)

// ProofKindFor returns the proof a rail accepts.
func ProofKindFor(rail Rail) ProofKind {
	switch rail {
	case RailUPI, RailBank:
		return ProofUTR
	case RailCrypto:
		return ProofTxHash
	default:
		return ProofProcessorSignature
	}
}

// NormalizeProof canonicalizes a proof value so that trivially altered replays collide.
func NormalizeProof(kind ProofKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case ProofUTR:
		return strings.ToUpper(value)
	case ProofTxHash:
		return strings.ToLower(value)
	}
	return value
}

// VerificationRecord is one accepted proof. (ProofKind, ProofValue) is unique.
type VerificationRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    string    `gorm:"size:64;not null;index" json:"order_id"`
	Rail       Rail      `gorm:"size:10;not null" json:"rail"`
	ProofKind  ProofKind `gorm:"size:24;not null;uniqueIndex:ux_verification_proof,priority:1" json:"proof_kind"`
	ProofValue string    `gorm:"size:191;not null;uniqueIndex:ux_verification_proof,priority:2" json:"proof_value"`
	VerifiedAt time.Time `gorm:"not null" json:"verified_at"`
}
