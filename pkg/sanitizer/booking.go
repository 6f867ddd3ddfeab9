package sanitizer

import "carrental/pkg/model"

func SanitizeCreateRequest(req *model.CreateBookingRequest) {
	req.VehicleID = TrimAndNormalize(req.VehicleID)
	req.StartDate = TrimAndNormalize(req.StartDate)
	req.EndDate = TrimAndNormalize(req.EndDate)
	req.UserID = TrimAndNormalize(req.UserID)
	req.PickupLocation = TrimAndNormalize(req.PickupLocation)
	req.PickupTime = TrimAndNormalize(req.PickupTime)
	req.Email = NormalizeEmail(req.Email)
	req.Phone = NormalizePhone(req.Phone)
	req.Notes = NormalizeNotes(req.Notes)
	req.CouponCode = NormalizeCode(req.CouponCode)
	req.ExternalPaymentRef = TrimAndNormalize(req.ExternalPaymentRef)
}

func SanitizeDetailsUpdate(update *model.BookingDetailsUpdate) {
	apply := func(field *string, fn func(string) string) {
		if field != nil {
			*field = fn(*field)
		}
	}
	apply(update.PickupLocation, TrimAndNormalize)
	apply(update.PickupTime, TrimAndNormalize)
	apply(update.Email, NormalizeEmail)
	apply(update.Phone, NormalizePhone)
	apply(update.Notes, NormalizeNotes)
}
