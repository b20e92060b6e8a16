package workflow

import "github.com/mmdatafocus/freight_backend/models"

// EvaluateShipmentCascade decides whether the package set of a shipment now
// satisfies one of the system transitions. It is pure: callers pass the
// package set as it will be after their own change and apply the result in
// the same changeset.
//
//	APPROVED -> READY_FOR_DISPATCH  when every linked package is STAGED
//	RECEIVED -> READY_FOR_RELEASE   when every linked package is LOCATED or later
//
// A shipment without packages never cascades.
func EvaluateShipmentCascade(s models.Shipment, packages []models.Package) (models.ShipmentStatus, bool) {
	if len(packages) == 0 {
		return "", false
	}
	switch s.Status {
	case models.ShipmentStatusApproved:
		if s.ApprovalStatus != models.ApprovalStatusApproved {
			return "", false
		}
		for _, p := range packages {
			if p.Status != models.PackageStatusStaged {
				return "", false
			}
		}
		return models.ShipmentStatusReadyForDispatch, true
	case models.ShipmentStatusReceived:
		for _, p := range packages {
			if p.Status.Rank() < models.PackageStatusLocated.Rank() {
				return "", false
			}
		}
		return models.ShipmentStatusReadyForRelease, true
	}
	return "", false
}
