package shipper

import "strings"

// providerStatuses maps normalized provider status codes onto internal
// statuses. Keys are lowercased with separators removed, see normalizeStatus.
var providerStatuses = map[string]ShipmentStatus{
	// accepted, waiting for pickup
	"new":                 StatusLabelCreated,
	"created":             StatusLabelCreated,
	"shipmentcreated":     StatusLabelCreated,
	"labelcreated":        StatusLabelCreated,
	"awbcreated":          StatusLabelCreated,
	"readyforpickup":      StatusLabelCreated,
	"pendingpickup":       StatusLabelCreated,
	"assignedtowarehouse": StatusLabelCreated,
	"searchingdriver":     StatusLabelCreated,
	"driverassigned":      StatusLabelCreated,
	"goingtopickup":       StatusLabelCreated,
	"arrivedatpickup":     StatusLabelCreated,

	// picked up
	"pickedup":           StatusPickedUp,
	"pickupfromcustomer": StatusPickedUp,
	"collected":          StatusPickedUp,
	"shipped":            StatusPickedUp,

	// moving through the network
	"intransit":                  StatusInTransit,
	"transit":                    StatusInTransit,
	"interminal":                 StatusInTransit,
	"arrivedterminal":            StatusInTransit,
	"arrivedoriginterminal":      StatusInTransit,
	"arriveddestinationterminal": StatusInTransit,
	"departedterminal":           StatusInTransit,
	"atwarehouse":                StatusInTransit,
	"sorting":                    StatusInTransit,
	"onhold":                     StatusInTransit,
	"delayed":                    StatusInTransit,

	// last mile
	"outfordelivery":     StatusOutForDelivery,
	"withcourier":        StatusOutForDelivery,
	"onthewaytocustomer": StatusOutForDelivery,

	"delivered":           StatusDelivered,
	"deliveredtocustomer": StatusDelivered,
	"podreceived":         StatusDelivered,

	// failures
	"failed":         StatusFailedDelivery,
	"faileddelivery": StatusFailedDelivery,
	"deliveryfailed": StatusFailedDelivery,
	"undelivered":    StatusFailedDelivery,
	"cancelled":      StatusFailedDelivery,
	"canceled":       StatusFailedDelivery,
	"lost":           StatusFailedDelivery,
	"damaged":        StatusFailedDelivery,
	"refused":        StatusFailedDelivery,

	"returned":         StatusReturned,
	"returnedtosender": StatusReturned,
	"returntoorigin":   StatusReturned,
	"returninprogress": StatusReturned,
	"rto":              StatusReturned,
}

// Translate maps a provider status onto the internal status. It is total:
// unknown or empty input yields StatusPending, never an error. Callers keep
// the raw string alongside the result.
func Translate(providerStatus string) ShipmentStatus {
	if s, ok := providerStatuses[normalizeStatus(providerStatus)]; ok {
		return s
	}
	return StatusPending
}

// IsKnownStatus reports whether Translate has an explicit mapping for s.
func IsKnownStatus(providerStatus string) bool {
	_, ok := providerStatuses[normalizeStatus(providerStatus)]
	return ok
}

// normalizeStatus folds "Out For Delivery", "out_for_delivery" and
// "outForDelivery" into the same key.
func normalizeStatus(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
