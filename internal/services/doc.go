// Package services implements the business layer between the HTTP transport
// and the license engine.
//
// # Services
//
//	- LicenseService: activation, deactivation and checks behind the key guard
//	- UpdateService: update checks, package downloads and product info
//	- HealthService: store and catalog health for the health endpoints
//
// Services own the cross-cutting concerns of an operation: refusing clients
// blocked by the key guard, recording lookup outcomes with the guard, and
// recording operation metrics. They return the engine's errors unchanged so
// the transport can map them to responses.
//
// # Testing
//
// Handlers are tested against mocked services:
//
//	svc := new(MockLicenseService)
//	svc.On("Check", mock.Anything, "10.0.0.1", in).Return(result, nil)
package services
