package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/your-org/sentinel/internal/models"
)

type PromptKind int

const (
	KindDetections PromptKind = iota
	KindVerification
)

// Image is one inline media part. Label, when set, is sent as text just
// before the image.
type Image struct {
	Label    string
	Data     []byte
	MimeType string
}

type Prompt struct {
	Kind        PromptKind
	Instruction string
	Images      []Image
}

// Provider is a live vision model. Generate returns the model's JSON text.
type Provider interface {
	Name() string
	Generate(ctx context.Context, p Prompt) (string, error)
}

var incidentTypeList = func() string {
	names := make([]string, len(models.IncidentTypes))
	for i, t := range models.IncidentTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}()

func classifyInstruction(refs []Reference) string {
	if len(refs) == 0 {
		return "Analyze this surveillance footage. Identify ONLY the single most critical public safety threat. " +
			"Classify it as one of: " + incidentTypeList + ". " +
			"Return a JSON array containing exactly one incident object with type, confidence (0-1), timestamp, " +
			"description, location, detectedObjects and licensePlate when a vehicle plate is readable."
	}
	return fmt.Sprintf("The first image is a surveillance scene. The following %d images are registry reference "+
		"photos, each preceded by its registry id. Perform many-to-many face comparison: for EVERY face in the scene "+
		"that matches a reference, return an object with type %q, matchedTargetId set to the reference id, "+
		"confidence (0-1) of the match, locationInImage describing where the face is in the scene, description and "+
		"detectedObjects. Faces that match no reference may be returned with type \"Unregistered Face\". "+
		"Return a JSON array.", len(refs), models.TargetMatchType)
}

func verifyInstruction(claimed models.IncidentType, at *models.Coordinates) string {
	where := "an unknown location"
	if at != nil {
		where = fmt.Sprintf("latitude %.5f, longitude %.5f", at.Lat, at.Lng)
	}
	return fmt.Sprintf("A field operator reports a %q incident at %s and submits this image as evidence. "+
		"Audit it: decide whether it is a genuine real-world photograph (not AI generated, not a screen capture, "+
		"not a stock image) and whether its content matches the reported incident. Return a JSON object "+
		"{is_real, reason, audit: {overall_score (0-100), authenticity, context_match, findings[]}}.", claimed, where)
}
