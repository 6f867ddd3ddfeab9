package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"carrental/pkg/logger"
	"carrental/pkg/model"

	"github.com/go-playground/validator/v10"
)

var (
	pickupTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details renders the errors as field -> message for API responses.
func (v ValidationErrors) Details() map[string]any {
	details := make(map[string]any, len(v))
	for _, err := range v {
		details[err.Field] = err.Message
	}
	return details
}

type BookingValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewBookingValidator(log *logger.Logger) *BookingValidator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names, which is what clients sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("pickup_time", validatePickupTime); err != nil {
		log.Fatal("Failed to register 'pickup_time' validator", "error", err)
	}

	log.Debug("Booking validator initialized")

	return &BookingValidator{
		validate: v,
		logger:   log,
	}
}

func validatePickupTime(fl validator.FieldLevel) bool {
	return pickupTimeRegex.MatchString(fl.Field().String())
}

func (v *BookingValidator) Validate(req *model.CreateBookingRequest) error {
	return v.validateStruct(req)
}

func (v *BookingValidator) ValidateDetails(update *model.BookingDetailsUpdate) error {
	if update.IsEmpty() {
		return ValidationErrors{{Field: "body", Message: "at least one field must be provided"}}
	}
	return v.validateStruct(update)
}

func (v *BookingValidator) ValidateStatus(status model.BookingStatus) error {
	if !status.IsValid() {
		return ValidationErrors{{
			Field:   "status",
			Message: fmt.Sprintf("status must be one of: %s %s %s %s", model.StatusPending, model.StatusConfirmed, model.StatusCancelled, model.StatusCompleted),
		}}
	}
	return nil
}

func (v *BookingValidator) ValidatePaymentConfirmation(p *model.PaymentConfirmation) error {
	return v.validateStruct(p)
}

func (v *BookingValidator) validateStruct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", err.Field())
		case "e164":
			message = fmt.Sprintf("%s must be in E.164 format (e.g., +14155552671)", err.Field())
		case "pickup_time":
			message = fmt.Sprintf("%s must be in HH:MM format", err.Field())
		case "gte":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
