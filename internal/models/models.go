package models

import "time"

type LatLng struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Vertical identifies the business line an order belongs to. Pricing tables
// are keyed by vertical; unknown verticals fall back to VerticalRide.
type Vertical string

const (
	VerticalRide     Vertical = "RIDE"
	VerticalMoto     Vertical = "MOTO"
	VerticalFood     Vertical = "FOOD"
	VerticalGrocery  Vertical = "GROCERY"
	VerticalGoods    Vertical = "GOODS"
	VerticalTruckVan Vertical = "TRUCK_VAN"
)

type VehicleType string

const (
	VehicleEconomy VehicleType = "ECONOMY"
	VehicleComfort VehicleType = "COMFORT"
	VehiclePremium VehicleType = "PREMIUM"
	VehicleMoto    VehicleType = "MOTO"
	VehicleVan     VehicleType = "VAN"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderMatching   OrderStatus = "MATCHING"
	OrderMatched    OrderStatus = "MATCHED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
	OrderFailed     OrderStatus = "FAILED"
)

// allowedTransitions encodes the order state flow. Status only moves forward;
// CANCELLED is the single exception, reachable from every non-terminal state.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderMatching, OrderCancelled},
	OrderMatching:   {OrderMatched, OrderFailed, OrderCancelled},
	OrderMatched:    {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted},
}

func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s OrderStatus) bool {
	return s == OrderCompleted || s == OrderCancelled || s == OrderFailed
}

type Order struct {
	ID          string      `json:"id"`
	Vertical    Vertical    `json:"vertical"`
	Pickup      LatLng      `json:"pickup"`
	Dropoff     LatLng      `json:"dropoff"`
	VehicleType VehicleType `json:"vehicle_type,omitempty"`
	IsPremium   bool        `json:"is_premium"`
	RequestedAt time.Time   `json:"requested_at"`
	Status      OrderStatus `json:"status"`
	DriverID    string      `json:"driver_id,omitempty"`
	Pricing     *Quote      `json:"pricing,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "AVAILABLE"
	DriverReserved  DriverStatus = "RESERVED"
	DriverBusy      DriverStatus = "BUSY"
)

type Driver struct {
	ID                 string       `json:"id"`
	Location           LatLng       `json:"location"`
	LastLocationUpdate time.Time    `json:"last_location_update"`
	VehicleType        VehicleType  `json:"vehicle_type"`
	Rating             float64      `json:"rating"` // 0..5
	CompletedTrips     int          `json:"completed_trips"`
	RecentTrips        int          `json:"recent_trips"`
	ReliabilityScore   float64      `json:"reliability_score"` // 0..1 accept rate
	Status             DriverStatus `json:"status"`
}

// Reservation is a time-bounded exclusive hold on a driver. A driver carries
// at most one active reservation; once ExpiresAt passes the driver counts as
// AVAILABLE again without any external signal.
type Reservation struct {
	DriverID  string    `json:"driver_id"`
	OrderID   string    `json:"order_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LocationUpdate is the shape pushed by driver devices onto the location
// stream. Updates older than the stored one for the driver are dropped.
type LocationUpdate struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

type MatchRequest struct {
	OrderID     string      `json:"order_id"`
	Vertical    Vertical    `json:"vertical"`
	Pickup      LatLng      `json:"pickup"`
	Dropoff     LatLng      `json:"dropoff"`
	VehicleType VehicleType `json:"vehicle_type,omitempty"`
	IsPremium   bool        `json:"is_premium"`
}

type MatchResult struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	DriverID string      `json:"driver_id,omitempty"`
	Pricing  *Quote      `json:"pricing,omitempty"`
}

// Quote is the pricing engine output. All monetary fields are rounded
// half-up to two decimals.
type Quote struct {
	BaseFare        float64       `json:"base_fare"`
	SurgeMultiplier float64       `json:"surge_multiplier"`
	TotalFare       float64       `json:"total_fare"`
	FinalFare       float64       `json:"final_fare"`
	Breakdown       FareBreakdown `json:"breakdown"`
}

type FareBreakdown struct {
	DistanceFare float64 `json:"distance_fare"`
	TimeFare     float64 `json:"time_fare"`
	BookingFee   float64 `json:"booking_fee"`
	ServiceFee   float64 `json:"service_fee"`
}

// Offer is what gets pushed to a driver when the orchestrator proposes an
// order. The driver answers with a Decision before ExpiresAt or loses the hold.
type Offer struct {
	OrderID    string    `json:"order_id"`
	DriverID   string    `json:"driver_id"`
	Pickup     LatLng    `json:"pickup"`
	Dropoff    LatLng    `json:"dropoff"`
	Vertical   Vertical  `json:"vertical"`
	ETASeconds float64   `json:"eta_seconds"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Decision struct {
	OrderID  string `json:"order_id"`
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
}
