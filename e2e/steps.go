package e2e

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background and configuration steps
	ctx.Step(`^the auth service is running$`, tc.authServiceIsRunning)
	ctx.Step(`^the identity rate limit is (\d+) per minute$`, tc.setIdentityRateLimit)
	ctx.Step(`^the origin rate limit is (\d+) per minute$`, tc.setOriginRateLimit)
	ctx.Step(`^the suspension threshold is (\d+) failures$`, tc.setSuspensionThreshold)

	// Login flow steps
	ctx.Step(`^I request a login code for "([^"]*)"$`, tc.requestLoginCode)
	ctx.Step(`^I request a login code (\d+) times for "([^"]*)"$`, tc.requestLoginCodeTimes)
	ctx.Step(`^I verify the emailed code for "([^"]*)"$`, tc.verifyEmailedCode)
	ctx.Step(`^I verify a wrong code for "([^"]*)"$`, tc.verifyWrongCode)
	ctx.Step(`^I verify the bypass code for "([^"]*)"$`, tc.verifyBypassCode)
	ctx.Step(`^I verify code "([^"]*)" for "([^"]*)"$`, tc.verifyCode)
	ctx.Step(`^I save the issued tokens$`, tc.saveIssuedTokens)

	// Session steps
	ctx.Step(`^I refresh the session with the saved token$`, tc.refreshWithSavedToken)
	ctx.Step(`^I refresh the session with token "([^"]*)"$`, tc.refreshWithToken)
	ctx.Step(`^I log out with the saved token$`, tc.logoutWithSavedToken)
	ctx.Step(`^I log out of all sessions$`, tc.logoutAllSessions)
	ctx.Step(`^I fetch my profile$`, tc.fetchProfile)
	ctx.Step(`^I list my sessions$`, tc.listSessions)

	// Generic request steps
	ctx.Step(`^I POST to "([^"]*)" with empty body$`, tc.postWithEmptyBody)
	ctx.Step(`^I POST to "([^"]*)" with invalid email "([^"]*)"$`, tc.postWithInvalidEmail)
	ctx.Step(`^I GET "([^"]*)" without authorization$`, tc.getWithoutAuth)
	ctx.Step(`^I GET "([^"]*)" with bearer token "([^"]*)"$`, tc.getWithBearerToken)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response should not contain "([^"]*)"$`, tc.responseShouldNotContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the response should set cookie "([^"]*)"$`, tc.responseShouldSetCookie)
	ctx.Step(`^the response should include a Retry-After header$`, tc.responseShouldIncludeRetryAfter)
	ctx.Step(`^my current session should be listed$`, tc.currentSessionShouldBeListed)
}

func (tc *TestContext) authServiceIsRunning(ctx context.Context) error {
	if err := tc.GET("/health/live", nil); err != nil {
		return err
	}
	if tc.LastResponse.StatusCode != 200 {
		return fmt.Errorf("liveness returned %d", tc.LastResponse.StatusCode)
	}
	return nil
}

func (tc *TestContext) setIdentityRateLimit(ctx context.Context, limit int) error {
	if tc.server != nil {
		return fmt.Errorf("rate limits must be set before the service starts")
	}
	tc.Config.IdentityLimit = limit
	return nil
}

func (tc *TestContext) setOriginRateLimit(ctx context.Context, limit int) error {
	if tc.server != nil {
		return fmt.Errorf("rate limits must be set before the service starts")
	}
	tc.Config.OriginLimit = limit
	return nil
}

func (tc *TestContext) setSuspensionThreshold(ctx context.Context, threshold int) error {
	if tc.server != nil {
		return fmt.Errorf("the suspension threshold must be set before the service starts")
	}
	tc.Config.SuspensionThreshold = threshold
	return nil
}

func (tc *TestContext) requestLoginCode(ctx context.Context, email string) error {
	return tc.POST("/auth/challenge", map[string]interface{}{"email": email})
}

func (tc *TestContext) requestLoginCodeTimes(ctx context.Context, times int, email string) error {
	for i := 0; i < times; i++ {
		if err := tc.requestLoginCode(ctx, email); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) verifyEmailedCode(ctx context.Context, email string) error {
	code := tc.sender.code(email)
	if code == "" {
		return fmt.Errorf("no code was delivered to %s", email)
	}
	return tc.verifyCode(ctx, code, email)
}

// verifyWrongCode guesses a code guaranteed to differ from the delivered one
// by flipping its first digit.
func (tc *TestContext) verifyWrongCode(ctx context.Context, email string) error {
	code := tc.sender.code(email)
	if code == "" {
		return fmt.Errorf("no code was delivered to %s", email)
	}
	wrong := string('0'+(code[0]-'0'+1)%10) + code[1:]
	return tc.verifyCode(ctx, wrong, email)
}

func (tc *TestContext) verifyBypassCode(ctx context.Context, email string) error {
	return tc.verifyCode(ctx, bypassCode, email)
}

func (tc *TestContext) verifyCode(ctx context.Context, code, email string) error {
	return tc.POST("/auth/verify", map[string]interface{}{
		"email": email,
		"code":  code,
	})
}

func (tc *TestContext) saveIssuedTokens(ctx context.Context) error {
	access, err := tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	tc.AccessToken, _ = access.(string)

	refreshToken, err := tc.GetResponseField("refresh_token")
	if err != nil {
		return err
	}
	tc.RefreshToken, _ = refreshToken.(string)

	if tc.AccessToken == "" || tc.RefreshToken == "" {
		return fmt.Errorf("response did not carry both tokens: %s", string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) refreshWithSavedToken(ctx context.Context) error {
	return tc.refreshWithToken(ctx, tc.RefreshToken)
}

func (tc *TestContext) refreshWithToken(ctx context.Context, token string) error {
	return tc.POST("/auth/refresh", map[string]interface{}{"refresh_token": token})
}

func (tc *TestContext) logoutWithSavedToken(ctx context.Context) error {
	return tc.POST("/auth/logout", map[string]interface{}{"refresh_token": tc.RefreshToken})
}

func (tc *TestContext) logoutAllSessions(ctx context.Context) error {
	return tc.POSTWithHeaders("/auth/logout-all", map[string]interface{}{}, map[string]string{
		"Authorization": "Bearer " + tc.AccessToken,
	})
}

func (tc *TestContext) fetchProfile(ctx context.Context) error {
	return tc.GET("/auth/me", map[string]string{
		"Authorization": "Bearer " + tc.AccessToken,
	})
}

func (tc *TestContext) listSessions(ctx context.Context) error {
	return tc.GET("/auth/sessions", map[string]string{
		"Authorization": "Bearer " + tc.AccessToken,
	})
}

func (tc *TestContext) postWithEmptyBody(ctx context.Context, path string) error {
	return tc.POST(path, map[string]interface{}{})
}

func (tc *TestContext) postWithInvalidEmail(ctx context.Context, path, email string) error {
	return tc.POST(path, map[string]interface{}{"email": email})
}

func (tc *TestContext) getWithoutAuth(ctx context.Context, path string) error {
	return tc.GET(path, nil)
}

func (tc *TestContext) getWithBearerToken(ctx context.Context, path, token string) error {
	return tc.GET(path, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no response recorded yet")
	}
	if tc.LastResponse.StatusCode != expectedStatus {
		return fmt.Errorf("expected status %d but got %d: %s",
			expectedStatus, tc.LastResponse.StatusCode, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseShouldContain(ctx context.Context, field string) error {
	if !tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain %q\nResponse: %s", field, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseShouldNotContain(ctx context.Context, field string) error {
	if tc.ResponseContains(field) {
		return fmt.Errorf("response unexpectedly contains %q\nResponse: %s", field, string(tc.LastResponseBody))
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actualValue, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}

	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (tc *TestContext) responseShouldSetCookie(ctx context.Context, name string) error {
	for _, cookie := range tc.LastResponse.Cookies() {
		if cookie.Name == name && cookie.Value != "" {
			return nil
		}
	}
	return fmt.Errorf("response did not set cookie %q", name)
}

func (tc *TestContext) responseShouldIncludeRetryAfter(ctx context.Context) error {
	if tc.LastResponse.Header.Get("Retry-After") == "" {
		return fmt.Errorf("response has no Retry-After header")
	}
	return nil
}

func (tc *TestContext) currentSessionShouldBeListed(ctx context.Context) error {
	var payload struct {
		Sessions []struct {
			Device  string `json:"device"`
			Current bool   `json:"current"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(tc.LastResponseBody, &payload); err != nil {
		return fmt.Errorf("failed to parse sessions response: %w", err)
	}
	if len(payload.Sessions) == 0 {
		return fmt.Errorf("no sessions listed")
	}

	current := 0
	for _, s := range payload.Sessions {
		if s.Current {
			current++
		}
	}
	if current != 1 {
		return fmt.Errorf("expected exactly one current session, found %d", current)
	}
	return nil
}
