package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/esnunes/renderpilot/internal/models"
)

// enhancementStack is attached to every text-to-visual generation.
var enhancementStack = []string{
	"Nikon Z 1000mm+ Simulation",
	"Da Vinci Color Grading",
	"Optimum Lens Simulation",
	"Ethos Layering",
	"Motion Zone Effects",
	"Artifact Suppression",
	"1-to-1 Vision Fidelity",
}

var (
	brandRe     = regexp.MustCompile(`(?i)logo|icon|brand`)
	photoRe     = regexp.MustCompile(`(?i)photo|realistic|real`)
	artRe       = regexp.MustCompile(`(?i)art|painting|drawing`)
	styleRe     = regexp.MustCompile(`(?i)style|artistic`)
	sharpnessRe = regexp.MustCompile(`(?i)clear|sharp`)
)

func textToVisualIntent(prompt string) *models.IntentUnderstanding {
	motive := "Generate a high-fidelity, production-grade visual."
	switch {
	case artRe.MatchString(prompt):
		motive = "Create a piece of digital art."
	case photoRe.MatchString(prompt):
		motive = "Generate a photorealistic image."
	case brandRe.MatchString(prompt):
		motive = "Create a brand asset or logo."
	}
	priority := "High fidelity and realism come first."
	switch {
	case sharpnessRe.MatchString(prompt):
		priority = "Clarity and sharpness come first."
	case styleRe.MatchString(prompt):
		priority = "Artistic style and composition come first."
	}

	return &models.IntentUnderstanding{
		Intent:        []string{"[Motive] " + motive},
		VisualParsing: []string{"Not applicable to text-to-visual generation."},
		FidelityRules: []string{"[Priority] " + priority, "[Native Layout] The render must read as a native application UI."},
		ExecutionSteps: []string{
			"Parse the prompt for motive, scope and priority.",
			"Apply the enhancement stack.",
			"Suppress artifacts and distortion.",
			"Render one full-frame visual with a locked aspect ratio.",
		},
		UIDiscipline: []string{"[Scope] Image generator only; no sandbox changes."},
		PreservationSummary: models.PreservationSummary{
			Preserved: []string{"Core prompt concepts", "Enhancement stack", "Native app aesthetic"},
			Excluded:  []string{"UI chrome", "Sandbox modifications"},
		},
	}
}

func imageToImageIntent(prompt, narrative string) *models.IntentUnderstanding {
	lead, _, _ := strings.Cut(strings.TrimSpace(narrative), "\n")
	return &models.IntentUnderstanding{
		Intent: []string{
			"Refine the provided visual according to the user's annotations and directive.",
			fmt.Sprintf("User directive: %q", prompt),
			fmt.Sprintf("Interpretation: %q", lead),
		},
		VisualParsing: []string{
			"Detect annotations such as arrows, text and highlights.",
			"Link each annotation to the UI element it targets.",
			"Identify the elements to modify.",
		},
		FidelityRules: []string{
			"Snapshot B keeps the visual integrity of Snapshot A apart from the requested changes.",
			"Snapshot B carries no user annotations.",
			"Structural similarity between snapshots is traced.",
		},
		ExecutionSteps: []string{
			"Parse annotations from Snapshot A.",
			"Combine annotations and directive into an action plan.",
			"Generate Snapshot B from the action plan.",
			"Record both snapshots and the plan in the revision ledger.",
			"Wait for user confirmation before rendering HTML.",
		},
		UIDiscipline: []string{
			"Visual output is returned to chat as a thumbnail card.",
			"HTML rendering is gated by user confirmation.",
		},
		PreservationSummary: models.PreservationSummary{
			Preserved: []string{"Overall UI style", "Unaltered elements", "Core visual fidelity"},
			Excluded:  []string{"User annotations", "Unclear directives"},
		},
		CapabilitiesUsed: []string{"Layout engine", "Annotation parsing", "Visual sourcing", "Fidelity trace"},
		UserUnderstanding: &models.UserUnderstanding{
			Requested:   fmt.Sprintf("UI refinement for %q.", prompt),
			Interpreted: "Layout clarity and visual hierarchy corrections guided by the annotations.",
			Delivered:   "A new visual mockup (Snapshot B) with the changes applied.",
			Pending:     "User confirmation before HTML rendering.",
		},
	}
}
