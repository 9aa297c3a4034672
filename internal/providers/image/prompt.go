package image

// FirefighterPrompt is the locked prompt for the campaign portrait. Changing it
// requires bumping domain.PromptVersion.
const FirefighterPrompt = `Transform the person in the uploaded photo into a photorealistic classic 1970s firefighter portrait.
Preserve facial identity while changing clothing and styling.
Use an outfit palette inspired by Encephalitis International campaign colors: warm orange, deep navy, and light cream accents.
Apply the nostalgic treatment directly in the generated image: subtle film grain, warm faded color grading, soft contrast, and a slight vintage haze.
No logos or text.
No collage or mixed-media effects.
Return a single high-quality portrait image.`

const (
	AspectSquare = "1:1"
	FormatPNG    = "png"
)
