package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	assert.Equal(t, "psoriasis skin lesion patient photo close up real", Build("psoriasis"))
	assert.Equal(t, "Atopic dermatitis skin lesion patient photo close up real", Build("Atopic dermatitis"))
}

func TestBuildDeterministic(t *testing.T) {
	assert.Equal(t, Build("acne"), Build("acne"))
}

func TestBuilder(t *testing.T) {
	tests := []struct {
		name     string
		template string
		input    string
		want     string
	}{
		{"default on empty", "", "acne", "acne skin lesion patient photo close up real"},
		{"default without placeholder", "dermatology", "acne", "acne skin lesion patient photo close up real"},
		{"custom", "{name} dermoscopy", "melanoma", "melanoma dermoscopy"},
		{"repeated placeholder", "{name} OR {name} rash", "tinea", "tinea OR tinea rash"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBuilder(tt.template).Build(tt.input))
		})
	}
}
