// ABOUTME: Terminal stand-in for the native sign-in sheet
// ABOUTME: Reads an identity token from a prompt; an empty answer is a cancel

package credential

import (
	"context"
	"strings"
)

// Prompter asks the user a question and returns the answer.
type Prompter func(ctx context.Context, question string) (string, error)

// PromptSignIn is a NativeSignIn for terminals: it asks for an identity token
// and reports an empty answer with the provider's cancel code. Against the
// development backend any string works as a token.
func PromptSignIn(prompt Prompter, cancelCode string) NativeSignIn {
	return NativeSignInFunc(func(ctx context.Context, req Request) (*NativeResult, error) {
		answer, err := prompt(ctx, "identity token (empty to cancel): ")
		if err != nil {
			return nil, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return nil, &NativeError{Code: cancelCode, Message: "user dismissed the sign-in sheet"}
		}
		return &NativeResult{IDToken: answer}, nil
	})
}
