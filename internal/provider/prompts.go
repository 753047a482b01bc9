package provider

import (
	"fmt"

	"github.com/esnunes/renderpilot/internal/htmlgen"
)

func imageGenerationPrompt(prompt string) string {
	return fmt.Sprintf(`Render a polished, production-quality web layout mockup for this request: %q.
Infer subject, style and composition from the request; do not fall back to presets.
Include a clear hero section, headings, body copy, call-to-action buttons and a footer.
Use subtle depth and layering. Landscape 16:9 framing.
Exclude browser chrome, device frames, placeholder boxes and layout drift.`, prompt)
}

func enhancePrompt(prompt string) string {
	return fmt.Sprintf(`Identify the single primary subject of this image (Snapshot A) and render it as an
isolated, full-frame hero image (Snapshot B). Apply the user's directive: %q.
Leave out every other UI element of the mockup: cards, text boxes, buttons and annotations.
The result must contain only the refined hero subject.`, prompt)
}

func intentScreenshotPrompt(prompt string) string {
	return fmt.Sprintf(`Overlay a semi-transparent annotation layer on this image that explains, with short
labels, boxes and arrows, how you will carry out the directive: %q.
Label the hero image area and show where supporting cards will be stacked below it.
Return the annotated image.`, prompt)
}

const cropPrompt = `Reframe this image with an aesthetically strong crop around its primary subject.
Use standard composition rules, lock the result to 16:9 and keep the source pixels
unchanged apart from the reframing. Return only the cropped image.`

func preRenderAuditPrompt(prompt string) string {
	return fmt.Sprintf(`Before any HTML is written, audit the provided mockup (Snapshot A) against the
user's directive: %q.
Return a plain-text report with these bulleted sections:
- Parsed Directive Summary
- Expected Layout Structure
- Snapshot A Lock Confirmation
- Card Sourcing Plan
- Constraint Checklist & Self-Correction (render purity, layout separation, prior learnings)
- Final Confirmation`, prompt)
}

func htmlPrompt(prompt, audit string) string {
	return fmt.Sprintf(`Your pre-render audit is below. Build the page strictly according to it.

---
%s
---

Convert the provided mockup into a single, complete, deployable HTML document styled with
the Tailwind CSS CDN. The user's directive was: %q.
Use the literal placeholder %s as the hero image source.
Start the file with an HTML comment of the form
<!-- %s <sections> | STYLES: <styling> -->
Return raw HTML only: no explanations and no markdown fences.`, audit, prompt, htmlgen.HeroPlaceholder, htmlgen.BuildPlanMarker)
}

const analyzePrompt = `The image is a screenshot the user annotated. Ignore surrounding application
chrome and focus on the central content and the user's marks on it.
Identify the annotations, infer the user's goal and propose a concrete layout change.
Respond with a JSON object only:
{"openingStatement": string, "bulletPoints": [3-5 strings], "closingStatement": string}`

func refinementPrompt(prompt string) string {
	return fmt.Sprintf(`The first image is the original mockup (Snapshot A), the user's directive is %q and
the second image is the isolated hero asset you produced (Snapshot B).
Confirm the asset is ready for a full HTML layout. Open with a one-line acknowledgement,
then give a bulleted fidelity trace with bold headings:
Image-to-Image Confirmation, UI Artifact Purge, Layout Separation, Capability Usage.`, prompt)
}

const chatSystemPrompt = `You are a visual design assistant. Answer concisely and concretely; when the user
describes a layout change, explain how it would be rendered.`
