package events

// Topic constants for domain events emitted by the donation flow.
const (
	// TopicDonationVerified fires when a verified payment is recorded synchronously.
	TopicDonationVerified = "donation.verified"
	// TopicDonationReconciled fires when the reconciliation worker records a
	// payment whose synchronous insert had failed.
	TopicDonationReconciled = "donation.reconciled"
)

// RecordedTopics lists the topics that mean a donation row now exists.
func RecordedTopics() []string {
	return []string{TopicDonationVerified, TopicDonationReconciled}
}
