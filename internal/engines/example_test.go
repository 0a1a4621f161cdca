package engines_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"nfscan/internal/engines"
)

// Example demonstrates running every available engine over one image.
func Example() {
	// Load .env file (using godotenv in main)
	// This should be done in your main() function:
	//
	// if err := godotenv.Load(); err != nil {
	//     log.Printf("Warning: Could not load .env file: %v", err)
	// }

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Cloud engines read credentials from the environment.
	visionEngine, err := engines.NewVisionEngine(ctx)
	if err != nil {
		log.Fatalf("Failed to create Vision engine: %v", err)
	}
	defer visionEngine.Close()

	// Tesseract runs locally and needs no credentials.
	tesseractEngine := engines.NewTesseractEngine(nil)

	image, err := os.ReadFile("danfe.png")
	if err != nil {
		log.Fatalf("Failed to read image: %v", err)
	}

	detections, err := engines.DetectAll(ctx, image, visionEngine, tesseractEngine)
	if err != nil {
		log.Fatalf("Recognition failed: %v", err)
	}

	for engineID, dets := range detections {
		fmt.Printf("%s: %d detections\n", engineID, len(dets))
	}
}

// ExampleSingleEngine demonstrates word-level detections from one engine.
func ExampleSingleEngine() {
	ctx := context.Background()

	eng := engines.NewTesseractEngine([]string{"por"})
	defer eng.Close()

	image, err := os.ReadFile("danfe.png")
	if err != nil {
		log.Fatalf("Failed to read image: %v", err)
	}

	detections, err := eng.Detect(ctx, image)
	if err != nil {
		log.Fatalf("Recognition failed: %v", err)
	}

	for _, d := range detections {
		fmt.Printf("%q at (%.0f, %.0f) confidence %.2f\n",
			d.Text, d.BBox.XMin, d.BBox.YMin, d.Confidence)
	}
}
