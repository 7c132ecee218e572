package donation

import "context"

// Confirmer tells the donation service that money moved for one of its
// donations. The saga treats a false result and an error identically:
// both trigger compensation.
type Confirmer interface {
	ConfirmDonation(ctx context.Context, donationID int64, transactionRef string, status string) (bool, error)
}
