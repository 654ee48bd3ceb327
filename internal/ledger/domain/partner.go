package domain

import "time"

// KYCStatus is the partner verification state maintained by onboarding.
type KYCStatus string

const (
	KYCPending  KYCStatus = "pending"
	KYCApproved KYCStatus = "approved"
	KYCRejected KYCStatus = "rejected"
)

func ParseKYCStatus(s string) (KYCStatus, error) {
	switch v := KYCStatus(s); v {
	case KYCPending, KYCApproved, KYCRejected:
		return v, nil
	}
	return "", unknown("kyc status", s)
}

func (s *KYCStatus) Scan(src any) error { return scanEnum(src, s, ParseKYCStatus) }

// Partner is a service provider that receives settlements.
type Partner struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	KYCStatus    KYCStatus  `json:"kyc_status"`
	KYCUpdatedAt *time.Time `json:"kyc_updated_at,omitempty"`
}

// CanRequestSettlement reports whether the partner has passed verification.
func (p *Partner) CanRequestSettlement() bool {
	return p.KYCStatus == KYCApproved
}
