package domain

// Prompt variants accepted by the pipeline.
const (
	PromptSuperhero    = "prompt1"
	PromptProfessional = "prompt2"
	PromptWarrior      = "prompt3"
)

const identityClause = " Preserve the person's exact facial structure, age, ethnicity, body build, glasses, " +
	"piercings, tattoos, facial hair and any religious or cultural garments exactly as in the source image. " +
	"Upper-body framing from just below the waist to just above the head, 4:5 aspect ratio, subject slightly " +
	"off-center, plain background."

// Prompts maps each variant to the style instruction sent to the provider.
var Prompts = map[string]string{
	PromptSuperhero: "Reimagine the uploaded person as a cinematic, high-end superhero portrait in modern " +
		"comic-film realism, confident and hopeful expression, tailored hero suit, dramatic rim lighting." + identityClause,
	PromptProfessional: "Reimagine the uploaded person as a cinematic, high-end professional portrait with a " +
		"calm, confident leader's presence, modern corporate attire, arms crossed, refined studio lighting." + identityClause,
	PromptWarrior: "Reimagine the uploaded person as a cinematic, high-end medieval warrior portrait, noble and " +
		"disciplined, grounded realistic armor and natural materials, dramatic historical lighting." + identityClause,
}

// ValidPromptVariant reports whether v names a known style.
func ValidPromptVariant(v string) bool {
	_, ok := Prompts[v]
	return ok
}
