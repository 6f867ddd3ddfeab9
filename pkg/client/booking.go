package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"carrental/pkg/model"
)

const userIDHeader = "X-User-ID"

// BookingClient calls the bookings API. Non-2xx answers come back as *APIError.
type BookingClient struct {
	httpClient *HttpClient
}

func NewBookingClient(baseURL string) *BookingClient {
	return &BookingClient{
		httpClient: NewHttpClient(baseURL),
	}
}

func (c *BookingClient) HTTP() *HttpClient {
	return c.httpClient
}

func (c *BookingClient) CheckAvailability(ctx context.Context, vehicleID, start, end string) (*model.AvailabilityResult, error) {
	resp, err := c.httpClient.POST(ctx, "/api/v1/bookings/check-availability", model.AvailabilityRequest{
		VehicleID: vehicleID,
		StartDate: start,
		EndDate:   end,
	}, nil)
	if err != nil {
		return nil, err
	}
	var result model.AvailabilityResult
	if err := decodeData(resp, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Create books a vehicle. created is false when the API replayed an earlier
// booking with the same payment reference.
func (c *BookingClient) Create(ctx context.Context, req *model.CreateBookingRequest, userID string) (booking *model.Booking, created bool, err error) {
	resp, err := c.httpClient.POST(ctx, "/api/v1/bookings", req, userHeaders(userID))
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, false, apiError(resp)
	}
	booking, err = c.DecodeBooking(resp)
	return booking, resp.StatusCode == http.StatusCreated, err
}

func (c *BookingClient) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	return c.bookingCall(c.httpClient.GET(ctx, "/api/v1/bookings/id/"+url.PathEscape(id), nil))
}

func (c *BookingClient) List(ctx context.Context, limit int, offset int64) ([]*model.Booking, *Metadata, error) {
	path := fmt.Sprintf("/api/v1/bookings?limit=%d&offset=%d", limit, offset)
	return c.listCall(c.httpClient.GET(ctx, path, nil))
}

func (c *BookingClient) ListMine(ctx context.Context, userID string, limit int, offset int64) ([]*model.Booking, *Metadata, error) {
	path := fmt.Sprintf("/api/v1/bookings/mine?limit=%d&offset=%d", limit, offset)
	return c.listCall(c.httpClient.GET(ctx, path, userHeaders(userID)))
}

func (c *BookingClient) UpdateDetails(ctx context.Context, id string, update *model.BookingDetailsUpdate) (*model.Booking, error) {
	return c.bookingCall(c.httpClient.PATCH(ctx, "/api/v1/bookings/id/"+url.PathEscape(id), update, nil))
}

func (c *BookingClient) UpdateStatus(ctx context.Context, id string, status model.BookingStatus) (*model.Booking, error) {
	path := "/api/v1/bookings/id/" + url.PathEscape(id) + "/status"
	return c.bookingCall(c.httpClient.PATCH(ctx, path, model.StatusUpdate{Status: status}, nil))
}

func (c *BookingClient) Cancel(ctx context.Context, id, userID string) (*model.Booking, error) {
	path := "/api/v1/bookings/id/" + url.PathEscape(id) + "/cancel"
	return c.bookingCall(c.httpClient.PUT(ctx, path, nil, userHeaders(userID)))
}

func (c *BookingClient) bookingCall(resp *Response, err error) (*model.Booking, error) {
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	return c.DecodeBooking(resp)
}

func (c *BookingClient) listCall(resp *Response, err error) ([]*model.Booking, *Metadata, error) {
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, apiError(resp)
	}
	return c.DecodeBookings(resp)
}

func (c *BookingClient) DecodeBooking(resp *Response) (*model.Booking, error) {
	var booking model.Booking
	if err := decodeData(resp, resp.StatusCode, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *BookingClient) DecodeBookings(resp *Response) ([]*model.Booking, *Metadata, error) {
	var wrapper struct {
		Data       []*model.Booking `json:"data"`
		TotalCount int64            `json:"total_count"`
		Limit      int              `json:"limit"`
		Offset     int64            `json:"offset"`
	}

	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return nil, nil, fmt.Errorf("could not decode paginated resp:\n%+v\n%s", resp.ToString(), err)
	}

	return wrapper.Data, &Metadata{
		TotalCount: wrapper.TotalCount,
		Limit:      wrapper.Limit,
		Offset:     wrapper.Offset,
	}, nil
}

func decodeData(resp *Response, wantStatus int, target any) error {
	if resp.StatusCode != wantStatus {
		return apiError(resp)
	}
	wrapper := struct {
		Data any `json:"data"`
	}{Data: target}
	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return fmt.Errorf("could not decode response:\n%+v\n%s", resp.ToString(), err)
	}
	return nil
}

func userHeaders(userID string) map[string]string {
	if userID == "" {
		return nil
	}
	return map[string]string{userIDHeader: userID}
}
