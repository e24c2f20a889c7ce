package stream

// Client request types.
const (
	reqSubscribe   = "subscribe"
	reqUnsubscribe = "unsubscribe"
	reqGetRooms    = "getRooms"
)

type request struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

type subscribedResponse struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type unsubscribedResponse struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	Success bool   `json:"success"`
}

type roomsResponse struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
