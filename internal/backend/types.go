package backend

// checkResponse is the body of GET /check_embeddings/{movie}.
type checkResponse struct {
	Exists bool   `json:"exists"`
	Movie  string `json:"movie,omitempty"`
	Status string `json:"status,omitempty"`
}

// generateRequest is the body of POST /generate_embeddings.
type generateRequest struct {
	Movie string `json:"movie"`
}

// summarizeRequest is the body of POST /summarize.
type summarizeRequest struct {
	TMDBID     string `json:"tmdb_id"`
	MovieTitle string `json:"movie_title"`
}

// deepDiveRequest is the body of POST /deep_dive.
type deepDiveRequest struct {
	TMDBID     string `json:"tmdb_id"`
	MovieTitle string `json:"movie_title"`
	Question   string `json:"question"`
}
