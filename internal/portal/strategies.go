package portal

import "portalwatch-backend/internal/browser/locator"

// UsernameStrategies find the username field of a generic login form, the
// last one takes the first visible non password input.
var UsernameStrategies = []locator.Strategy{
	{Selector: `input[type="text"]`},
	{Selector: `input[type="email"]`},
	{Selector: `input[name*="user"]`},
	{Selector: `input[name*="login"]`},
	{Selector: `input[name*="username"]`},
	{Selector: `input[id*="user"]`},
	{Selector: `input[id*="login"]`},
	{
		Name:     "placeholder",
		Selector: `input[placeholder]`,
		Attr:     "placeholder",
		AttrAny:  []string{"usuário", "email", "login"},
	},
	{
		Name:     "positional",
		Selector: `input`,
		Exclude:  `[type="password"], [type="hidden"], [type="submit"], [type="button"], [type="checkbox"], [type="radio"]`,
	},
}

// PasswordStrategies find the password field of a generic login form.
var PasswordStrategies = []locator.Strategy{
	{Selector: `input[type="password"]`},
	{Selector: `input[name*="pass"]`},
	{Selector: `input[name*="password"]`},
	{Selector: `input[id*="pass"]`},
	{
		Name:     "placeholder",
		Selector: `input[placeholder]`,
		Attr:     "placeholder",
		AttrAny:  []string{"senha"},
	},
}

// SubmitStrategies find the submit control, typed controls first, then
// buttons whose text shows login intent.
var SubmitStrategies = []locator.Strategy{
	{Selector: `button[type="submit"]`},
	{Selector: `input[type="submit"]`},
	{
		Name:     "login-text",
		Selector: `button, input[type="button"], input[type="submit"], a[class*="btn"]`,
		TextAny:  []string{"entrar", "login", "acessar", "sign in"},
	},
}

// SuccessHints are shown only to logged in users.
var SuccessHints = []locator.Strategy{
	{Selector: `[class*="dashboard"], [class*="menu"], [id*="menu"]`},
}

// ErrorHints may carry a login rejection message.
var ErrorHints = []locator.Strategy{
	{Selector: `[class*="error"], [class*="alert"], [class*="message"]`},
}

// ErrorTerms mark an error hint as a login rejection.
var ErrorTerms = []string{"erro", "inválid", "incorret"}

// FailureURL fragments mean the login page is still showing.
var FailureURL = []string{"login", "auth"}
