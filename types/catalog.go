package types

// Bin is a recycling drop-off location.
type Bin struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// BinDistance is a bin annotated with its distance from the caller, in km.
type BinDistance struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Address  string  `json:"address"`
	Distance float64 `json:"distance"`
}

// RewardCard is an item users can redeem with recycling points.
type RewardCard struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Points      int    `json:"points"`
	ImageURL    string `json:"image_url,omitempty"`
}
