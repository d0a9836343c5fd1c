// Package http implements the HTTP handlers of the license authority.
// Handlers are a thin layer over internal/services: they bind and validate
// the request, call the service and render the wire response.
//
// # Endpoints
//
//	POST /license/activate    bind a site to a license
//	POST /license/deactivate  release a site's slot
//	GET  /license/check       re-evaluate a license
//	GET  /update/check        report the latest release for an entitled license
//	GET  /update/download     stream the release package
//	GET  /update/info         public product information
//
// License endpoints accept JSON or form-encoded bodies; the GET endpoints read
// the query string. Field names match the plugin client: license_key,
// plugin_slug, site_url and so on.
//
// # Error Handling
//
// Every failure is written by errors.ErrorHandler as RFC 7807 problem
// details that also carry success, license_status and message:
//
//	{
//	    "type": "/errors/license/expired",
//	    "title": "License Expired",
//	    "status": 403,
//	    "success": false,
//	    "license_status": "expired",
//	    "message": "License expired"
//	}
//
// # Testing
//
// Handlers are tested with httptest against mocked services.
package http
