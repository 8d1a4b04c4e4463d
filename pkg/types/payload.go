package types

// Typed payloads for the synced collections. Each struct round-trips through
// Entity.Payload; the sync engine itself never inspects these fields.

// Tree is the payload for the trees collection.
type Tree struct {
	Code        string  `json:"code"`
	Species     string  `json:"species"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	OwnerID     int64   `json:"owner_id"`
}

// Image is the payload for the images collection. Data holds the captured
// image encoded as a transportable string (data URL or base64).
type Image struct {
	TreeID   string `json:"tree_id"`
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
	OwnerID  int64  `json:"owner_id"`
}

// Analysis is the payload for the analyses collection, produced by the
// inference endpoint for a captured image.
type Analysis struct {
	ImageID       string        `json:"image_id"`
	AnalyzedImage string        `json:"analyzed_image"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes"`
}

// BoundingBox locates a detected disease region within an analyzed image.
type BoundingBox struct {
	DiseaseName string  `json:"disease_name"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	W           float64 `json:"w"`
	H           float64 `json:"h"`
}

// Disease is the payload for the diseases reference collection.
type Disease struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Treatment   string `json:"treatment"`
}

// DiseaseIdentified is the payload for the disease_identified collection,
// linking an analysis to a disease with the model's likelihood score.
type DiseaseIdentified struct {
	AnalysisID      string  `json:"analysis_id"`
	DiseaseName     string  `json:"disease_name"`
	LikelihoodScore float64 `json:"likelihood_score"`
}

// Feedback is the payload for the feedback collection.
type Feedback struct {
	UserID  int64  `json:"user_id"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}
